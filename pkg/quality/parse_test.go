package quality_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/quality"
)

var _ = Describe("ParseVMAFLog", func() {
	It("aggregates per-frame scores into mean/min/max/percentiles", func() {
		data := []byte(`{
			"frames": [
				{"metrics": {"vmaf": 90.0}},
				{"metrics": {"vmaf": 95.0}},
				{"metrics": {"vmaf": 85.0}}
			]
		}`)
		report, err := quality.ParseVMAFLog(data, "hd")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Mean).To(BeNumerically("~", 90.0, 0.01))
		Expect(report.Min).To(Equal(85.0))
		Expect(report.Max).To(Equal(95.0))
		Expect(report.ModelUsed).To(Equal("hd"))
	})

	It("caps raw scores at the first 100 frames", func() {
		frames := `{"frames": [`
		for i := 0; i < 150; i++ {
			if i > 0 {
				frames += ","
			}
			frames += `{"metrics": {"vmaf": 90.0}}`
		}
		frames += `]}`

		report, err := quality.ParseVMAFLog([]byte(frames), "hd")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.RawScores).To(HaveLen(100))
	})

	It("errors on a log with no frames", func() {
		_, err := quality.ParseVMAFLog([]byte(`{"frames": []}`), "hd")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParsePSNR", func() {
	It("extracts the final summary line's averages and components", func() {
		stderr := "frame=1\npsnr_avg:40.1 psnr_y:41.2 psnr_u:38.3 psnr_v:39.4\n" +
			"frame=2\npsnr_avg:42.5 psnr_y:43.6 psnr_u:40.7 psnr_v:41.8\n"
		report, err := quality.ParsePSNR(stderr)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Average).To(Equal(42.5), "the last match is the cumulative summary")
		Expect(report.Y).To(Equal(43.6))
	})

	It("errors when no psnr line is present", func() {
		_, err := quality.ParsePSNR("no metrics here")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseSSIM", func() {
	It("extracts the final summary line's plane scores", func() {
		stderr := "Y:0.987452 U:0.991234 V:0.990123 All:0.989456 (19.802345)\n"
		report, err := quality.ParseSSIM(stderr)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Average).To(Equal(0.989456))
		Expect(report.Y).To(Equal(0.987452))
	})
})

var _ = Describe("GradeFromVMAFMean", func() {
	DescribeTable("bucket boundaries",
		func(mean float64, want quality.Grade) {
			Expect(quality.GradeFromVMAFMean(mean)).To(Equal(want))
		},
		Entry("excellent at 95", 95.0, quality.GradeExcellent),
		Entry("very good at 80", 80.0, quality.GradeVeryGood),
		Entry("good at 60", 60.0, quality.GradeGood),
		Entry("fair at 40", 40.0, quality.GradeFair),
		Entry("poor below 40", 39.9, quality.GradePoor),
	)
})

var _ = Describe("Recommendations", func() {
	It("recommends a bitrate increase when mean is below 60", func() {
		recs := quality.Recommendations(&quality.VMAFReport{Mean: 55, Min: 50})
		Expect(recs).To(ContainElement(ContainSubstring("bitrate")))
	})

	It("flags scene complexity when the minimum frame score is below 30", func() {
		recs := quality.Recommendations(&quality.VMAFReport{Mean: 90, Min: 20})
		Expect(recs).To(ContainElement(ContainSubstring("scene complexity")))
	})

	It("returns no recommendations for a clean high-quality report", func() {
		recs := quality.Recommendations(&quality.VMAFReport{Mean: 98, Min: 90})
		Expect(recs).To(BeEmpty())
	})
})

var _ = Describe("CheckResolution", func() {
	It("reports no mismatch for matching dimensions", func() {
		_, mismatched := quality.CheckResolution(1920, 1080, 1920, 1080)
		Expect(mismatched).To(BeFalse())
	})

	It("warns but does not error on a resolution mismatch", func() {
		warning, mismatched := quality.CheckResolution(1920, 1080, 1280, 720)
		Expect(mismatched).To(BeTrue())
		Expect(warning).To(ContainSubstring("1920x1080"))
		Expect(warning).To(ContainSubstring("1280x720"))
	})
})

var _ = Describe("NewBitrateComparison", func() {
	It("derives size/bitrate reduction and compression ratio", func() {
		b := quality.NewBitrateComparison(1000, 500, 8000, 4000)
		Expect(b.SizeReductionPct).To(BeNumerically("~", 50.0, 0.01))
		Expect(b.BitrateReductionPct).To(BeNumerically("~", 50.0, 0.01))
		Expect(b.CompressionRatio).To(BeNumerically("~", 2.0, 0.01))
	})
})
