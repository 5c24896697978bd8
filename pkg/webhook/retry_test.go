package webhook_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/webhook"
)

var _ = Describe("RetryDelay", func() {
	It("follows the documented delay table for attempts 1..5 (scenario 3)", func() {
		expected := []time.Duration{
			60 * time.Second, 300 * time.Second, 900 * time.Second,
			3600 * time.Second, 7200 * time.Second,
		}
		for i, want := range expected {
			Expect(webhook.RetryDelay(i + 1)).To(Equal(want))
		}
	})

	It("falls back to capped exponential backoff beyond the table", func() {
		Expect(webhook.RetryDelay(6)).To(Equal(14400 * time.Second))
		Expect(webhook.RetryDelay(20)).To(Equal(86400 * time.Second))
	})
})
