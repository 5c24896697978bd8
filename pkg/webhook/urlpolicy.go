package webhook

import (
	"net"
	"net/url"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

var privateBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil {
			privateBlocks = append(privateBlocks, block)
		}
	}
}

// ValidateURL enforces the URL policy from spec §4.E: scheme must be
// http/https, host required, and — in production — loopback and private IP
// ranges are rejected to guard against SSRF against internal services.
func ValidateURL(raw string, production bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.NewValidationError("invalid webhook URL: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.NewValidationError("webhook URL scheme must be http or https")
	}
	if u.Host == "" {
		return apperrors.NewValidationError("webhook URL host is required")
	}
	if !production {
		return nil
	}

	host := u.Hostname()
	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP; DNS-resolved hosts are allowed through URL
		// validation and rely on the HTTP client's dial behavior. A literal
		// loopback/private-range hostname ("localhost") is still rejected.
		if host == "localhost" {
			return apperrors.NewSecurityError("webhook URL targets a disallowed loopback host")
		}
		return nil
	}
	if ip.IsLoopback() {
		return apperrors.NewSecurityError("webhook URL targets a loopback address")
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return apperrors.NewSecurityError("webhook URL targets a private IP range")
		}
	}
	return nil
}
