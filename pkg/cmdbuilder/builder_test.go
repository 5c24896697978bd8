package cmdbuilder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

var _ = Describe("Build", func() {
	var req cmdbuilder.BuildRequest

	BeforeEach(func() {
		req = cmdbuilder.BuildRequest{
			Input:  "/tmp/in.mp4",
			Output: "/tmp/out.mp4",
		}
	})

	It("produces the exact argv shape for a trim+transcode job with no accelerator available", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpTrim, Start: "00:00:10", Duration: 5},
			{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", CRF: 23},
		}

		argv, err := cmdbuilder.Build(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(argv).To(Equal([]string{
			"-i", "/tmp/in.mp4",
			"-c:v", "libx264",
			"-crf", "23",
			"-ss", "10",
			"-t", "5",
			"-y",
			"/tmp/out.mp4",
		}))
	})

	It("prepends -hwaccel only when an accelerator is actually selected", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264"},
		}
		req.Available = []cmdbuilder.Accelerator{cmdbuilder.AccelNVENC}

		argv, err := cmdbuilder.Build(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(argv[0]).To(Equal("-hwaccel"))
		Expect(argv[1]).To(Equal("nvenc"))
		Expect(argv).To(ContainElement("h264_nvenc"))
	})

	It("never emits -hwaccel when no accelerator is available", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264"},
		}
		argv, err := cmdbuilder.Build(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(argv).NotTo(ContainElement("-hwaccel"))
	})

	It("builds the same argv twice for the same request, modulo nothing (idempotent)", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", CRF: 20},
		}
		first, err1 := cmdbuilder.Build(req)
		second, err2 := cmdbuilder.Build(req)
		Expect(err1).NotTo(HaveOccurred())
		Expect(err2).NotTo(HaveOccurred())
		Expect(first).To(Equal(second))
	})

	It("appends global options last and the output path as the final argument", func() {
		req.Options = cmdbuilder.Options{"container": "mp4", "threads": 4}
		argv, err := cmdbuilder.Build(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(argv[len(argv)-1]).To(Equal("/tmp/out.mp4"))
		Expect(argv).To(ContainElement("-f"))
		Expect(argv).To(ContainElement("mp4"))
		Expect(argv).To(ContainElement("-threads"))
	})

	It("combines video filters from a filter operation into a single -vf chain", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpFilter, FilterName: "scale", FilterParams: map[string]interface{}{"w": 1280, "h": 720}},
			{Kind: cmdbuilder.OpFilter, FilterName: "denoise"},
		}
		argv, err := cmdbuilder.Build(req)
		Expect(err).NotTo(HaveOccurred())

		idx := indexOf(argv, "-vf")
		Expect(idx).To(BeNumerically(">=", 0))
		Expect(argv[idx+1]).To(ContainSubstring("scale="))
		Expect(argv[idx+1]).To(ContainSubstring("denoise"))
	})

	It("rejects a job whose watermark image path attempts traversal, before building any argv", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpWatermark, Image: "../../etc/shadow"},
		}
		argv, err := cmdbuilder.Build(req)
		Expect(err).To(HaveOccurred())
		Expect(argv).To(BeNil())
	})

	It("rejects an output path containing a null byte", func() {
		req.Output = "out\x00.mp4"
		_, err := cmdbuilder.Build(req)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown codec before spawning anything", func() {
		req.Operations = []cmdbuilder.Operation{
			{Kind: cmdbuilder.OpTranscode, VideoCodec: "made_up_codec"},
		}
		_, err := cmdbuilder.Build(req)
		Expect(err).To(HaveOccurred())
	})
})

func indexOf(s []string, v string) int {
	for i, item := range s {
		if item == v {
			return i
		}
	}
	return -1
}
