package webhook_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/webhook"
)

var _ = Describe("Sign/VerifySignature", func() {
	It("recomputes the same signature for the same payload (round-trip property)", func() {
		payload := map[string]interface{}{"event": "complete", "job_id": "abc", "status": "completed"}
		sig, err := webhook.Sign("shh", payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).To(HavePrefix("sha256="))

		ok, err := webhook.VerifySignature("shh", payload, sig)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("produces the same signature regardless of map key insertion order", func() {
		a := map[string]interface{}{"b": 1, "a": 2}
		b := map[string]interface{}{"a": 2, "b": 1}
		sigA, _ := webhook.Sign("shh", a)
		sigB, _ := webhook.Sign("shh", b)
		Expect(sigA).To(Equal(sigB))
	})

	It("fails verification against a tampered payload", func() {
		payload := map[string]interface{}{"event": "complete", "job_id": "abc"}
		sig, _ := webhook.Sign("shh", payload)
		tampered := map[string]interface{}{"event": "complete", "job_id": "xyz"}
		ok, err := webhook.VerifySignature("shh", tampered, sig)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
