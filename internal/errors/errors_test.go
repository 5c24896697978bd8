package errors_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

var _ = Describe("AppError", func() {
	Describe("New", func() {
		It("formats Error() without details", func() {
			err := apperrors.New(apperrors.KindValidation, "input_path is required")
			Expect(err.Error()).To(Equal("validation: input_path is required"))
		})

		It("formats Error() with details appended in parentheses", func() {
			err := apperrors.New(apperrors.KindValidation, "bad request").WithDetails("field: crf")
			Expect(err.Error()).To(Equal("validation: bad request (field: crf)"))
		})
	})

	Describe("Wrap and Unwrap", func() {
		It("preserves the wrapped cause", func() {
			cause := fmt.Errorf("connection refused")
			err := apperrors.Wrap(apperrors.KindStorage, "upload failed", cause)
			Expect(err.Unwrap()).To(Equal(cause))
			Expect(err.Error()).To(Equal("storage: upload failed"))
		})

		It("Wrapf formats the message", func() {
			cause := fmt.Errorf("boom")
			err := apperrors.Wrapf(apperrors.KindNetwork, cause, "dial %s failed", "example.com")
			Expect(err.Message).To(Equal("dial example.com failed"))
		})
	})

	Describe("WithDetailsf", func() {
		It("formats the detail string", func() {
			err := apperrors.New(apperrors.KindValidation, "out of range").WithDetailsf("crf=%d", 99)
			Expect(err.Details).To(Equal("crf=99"))
		})
	})

	DescribeTable("HTTP status mapping",
		func(kind apperrors.Kind, expected int) {
			err := apperrors.New(kind, "x")
			Expect(apperrors.GetStatusCode(err)).To(Equal(expected))
		},
		Entry("validation", apperrors.KindValidation, 400),
		Entry("authentication", apperrors.KindAuthentication, 401),
		Entry("authorization", apperrors.KindAuthorization, 403),
		Entry("security", apperrors.KindSecurity, 403),
		Entry("rate_limit", apperrors.KindRateLimit, 429),
		Entry("processing", apperrors.KindProcessing, 422),
		Entry("network", apperrors.KindNetwork, 502),
		Entry("timeout", apperrors.KindTimeout, 504),
		Entry("internal", apperrors.KindInternal, 500),
	)

	It("defaults non-AppError to 500", func() {
		Expect(apperrors.GetStatusCode(fmt.Errorf("plain"))).To(Equal(500))
	})

	Describe("IsType and GetType", func() {
		It("matches the kind tag", func() {
			err := apperrors.New(apperrors.KindTimeout, "slow")
			Expect(apperrors.IsType(err, apperrors.KindTimeout)).To(BeTrue())
			Expect(apperrors.IsType(err, apperrors.KindNetwork)).To(BeFalse())
			Expect(apperrors.GetType(err)).To(Equal(apperrors.KindTimeout))
		})

		It("defaults to internal for unknown errors", func() {
			Expect(apperrors.GetType(fmt.Errorf("x"))).To(Equal(apperrors.KindInternal))
		})
	})

	Describe("SafeErrorMessage", func() {
		It("never includes details for high-severity kinds even in debug mode", func() {
			err := apperrors.New(apperrors.KindSecurity, "forbidden").WithDetails("token=abc123")
			Expect(apperrors.SafeErrorMessage(err, true)).To(Equal("forbidden"))
		})

		It("includes details for low-severity kinds in debug mode", func() {
			err := apperrors.New(apperrors.KindValidation, "bad field").WithDetails("field=crf")
			Expect(apperrors.SafeErrorMessage(err, true)).To(Equal("bad field (field=crf)"))
		})

		It("omits details outside debug mode", func() {
			err := apperrors.New(apperrors.KindValidation, "bad field").WithDetails("field=crf")
			Expect(apperrors.SafeErrorMessage(err, false)).To(Equal("bad field"))
		})
	})

	Describe("LogFields", func() {
		It("includes error, error_type, status_code, details, and underlying error", func() {
			cause := fmt.Errorf("dial tcp: refused")
			err := apperrors.Wrap(apperrors.KindNetwork, "upstream unreachable", cause).WithDetails("host=example.com")
			fields := apperrors.LogFields(err)
			Expect(fields["error"]).To(Equal(err.Error()))
			Expect(fields["error_type"]).To(Equal("network"))
			Expect(fields["status_code"]).To(Equal(502))
			Expect(fields["error_details"]).To(Equal("host=example.com"))
			Expect(fields["underlying_error"]).To(Equal("dial tcp: refused"))
		})
	})

	Describe("Chain", func() {
		It("joins non-nil errors with an arrow separator", func() {
			err := apperrors.Chain(fmt.Errorf("a"), nil, fmt.Errorf("b"))
			Expect(err.Error()).To(ContainSubstring("a -> b"))
		})

		It("returns nil when every argument is nil", func() {
			Expect(apperrors.Chain(nil, nil)).To(BeNil())
		})

		It("returns nil for an empty call", func() {
			Expect(apperrors.Chain()).To(BeNil())
		})
	})
})
