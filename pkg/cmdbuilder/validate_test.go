package cmdbuilder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

var _ = Describe("ValidateOperation", func() {
	var whitelist *cmdbuilder.Whitelist

	BeforeEach(func() {
		whitelist = cmdbuilder.NewDefaultWhitelist()
	})

	It("rejects an operation kind absent from the whitelist", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OperationKind("transmute")}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("trim duration/end requirement",
		func(op cmdbuilder.Operation, wantErr bool) {
			err := cmdbuilder.ValidateOperation(op, whitelist)
			if wantErr {
				Expect(err).To(HaveOccurred())
			} else {
				Expect(err).NotTo(HaveOccurred())
			}
		},
		Entry("zero duration and zero end is rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTrim}, true),
		Entry("nonzero duration is accepted", cmdbuilder.Operation{Kind: cmdbuilder.OpTrim, Duration: 5}, false),
		Entry("nonzero end is accepted", cmdbuilder.Operation{Kind: cmdbuilder.OpTrim, End: 30}, false),
	)

	It("rejects a watermark image path containing a traversal segment with SECURITY_VIOLATION", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OpWatermark, Image: "../../etc/passwd"}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err).To(HaveOccurred())
		var appErr *apperrors.AppError
		Expect(err).To(BeAssignableToTypeOf(appErr))
		Expect(err.(*apperrors.AppError).Kind).To(Equal(apperrors.KindSecurity))
	})

	It("rejects a watermark image path containing a null byte with SECURITY_VIOLATION", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OpWatermark, Image: "logo\x00.png"}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err.(*apperrors.AppError).Kind).To(Equal(apperrors.KindSecurity))
	})

	It("rejects a watermark image path containing shell metacharacters with SECURITY_VIOLATION", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OpWatermark, Image: "logo.png; rm -rf /"}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err.(*apperrors.AppError).Kind).To(Equal(apperrors.KindSecurity))
	})

	It("rejects a filter name not on the whitelist", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OpFilter, FilterName: "unknown_filter"}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a stream format that is neither hls nor dash", func() {
		op := cmdbuilder.Operation{Kind: cmdbuilder.OpStreamMap, StreamFormat: "rtmp"}
		err := cmdbuilder.ValidateOperation(op, whitelist)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("transcode range checks",
		func(op cmdbuilder.Operation, wantErr bool) {
			err := cmdbuilder.ValidateOperation(op, whitelist)
			if wantErr {
				Expect(err).To(HaveOccurred())
			} else {
				Expect(err).NotTo(HaveOccurred())
			}
		},
		Entry("crf within range", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", CRF: 23}, false),
		Entry("crf above max rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", CRF: 52}, true),
		Entry("fps zero is unset, skipped", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264"}, false),
		Entry("fps above max rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", FPS: 241}, true),
		Entry("width above max rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "h264", Width: 9000}, true),
		Entry("unknown video codec rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, VideoCodec: "doge"}, true),
		Entry("unknown audio codec rejected", cmdbuilder.Operation{Kind: cmdbuilder.OpTranscode, AudioCodec: "doge"}, true),
	)
})
