package webhook_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/webhook"
)

var _ = Describe("ValidateURL", func() {
	It("accepts a plain https URL in production", func() {
		Expect(webhook.ValidateURL("https://example.com/hook", true)).To(Succeed())
	})

	It("rejects a non-http(s) scheme", func() {
		Expect(webhook.ValidateURL("ftp://example.com/hook", false)).To(HaveOccurred())
	})

	It("rejects a URL with no host", func() {
		Expect(webhook.ValidateURL("https:///hook", false)).To(HaveOccurred())
	})

	DescribeTable("rejects loopback and private ranges in production",
		func(target string) {
			Expect(webhook.ValidateURL(target, true)).To(HaveOccurred())
		},
		Entry("loopback IPv4", "http://127.0.0.1/hook"),
		Entry("loopback hostname", "http://localhost/hook"),
		Entry("10/8", "http://10.1.2.3/hook"),
		Entry("172.16/12", "http://172.16.0.5/hook"),
		Entry("192.168/16", "http://192.168.1.1/hook"),
		Entry("IPv6 loopback", "http://[::1]/hook"),
	)

	It("allows private-range targets when not in production (dev/test convenience)", func() {
		Expect(webhook.ValidateURL("http://127.0.0.1/hook", false)).To(Succeed())
	})
})
