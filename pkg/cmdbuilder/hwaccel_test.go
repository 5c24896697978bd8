package cmdbuilder_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

type stubProber struct {
	accels []cmdbuilder.Accelerator
	err    error
	calls  int
}

func (s *stubProber) AvailableAccelerators(ctx context.Context) ([]cmdbuilder.Accelerator, error) {
	s.calls++
	return s.accels, s.err
}

var _ = Describe("SelectEncoder", func() {
	It("falls back to the software encoder when nothing is available", func() {
		encoder, hwaccel := cmdbuilder.SelectEncoder("h264", nil)
		Expect(encoder).To(Equal("libx264"))
		Expect(hwaccel).To(BeEmpty())
	})

	It("prefers nvenc over every other accelerator", func() {
		available := []cmdbuilder.Accelerator{cmdbuilder.AccelVAAPI, cmdbuilder.AccelQSV, cmdbuilder.AccelNVENC}
		encoder, hwaccel := cmdbuilder.SelectEncoder("h264", available)
		Expect(encoder).To(Equal("h264_nvenc"))
		Expect(hwaccel).To(Equal("nvenc"))
	})

	It("falls through the preference order when higher-priority accelerators are absent", func() {
		available := []cmdbuilder.Accelerator{cmdbuilder.AccelVAAPI, cmdbuilder.AccelAMF}
		encoder, hwaccel := cmdbuilder.SelectEncoder("h265", available)
		Expect(encoder).To(Equal("h265_vaapi"))
		Expect(hwaccel).To(Equal("vaapi"))
	})
})

var _ = Describe("CachedProber", func() {
	It("probes the underlying prober at most once per process lifetime", func() {
		stub := &stubProber{accels: []cmdbuilder.Accelerator{cmdbuilder.AccelQSV}}
		cached := cmdbuilder.NewCachedProber(stub)

		first, err := cached.AvailableAccelerators(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(ConsistOf(cmdbuilder.AccelQSV))

		second, err := cached.AvailableAccelerators(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(stub.calls).To(Equal(1))
	})

	It("caches a probe error too, rather than retrying on every call", func() {
		stub := &stubProber{err: errors.New("ffmpeg not found")}
		cached := cmdbuilder.NewCachedProber(stub)

		_, err1 := cached.AvailableAccelerators(context.Background())
		_, err2 := cached.AvailableAccelerators(context.Background())
		Expect(err1).To(HaveOccurred())
		Expect(err2).To(Equal(err1))
		Expect(stub.calls).To(Equal(1))
	})
})
