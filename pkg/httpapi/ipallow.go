package httpapi

import (
	"net"
	"strings"
)

// ipAllowEntry is one parsed line from the configured allow-list: a CIDR
// block, a single address, or — for an entry that parses as neither — a
// literal string the candidate address must be prefixed by (spec §4.L "IP
// allow-list check supports both individual addresses and CIDR; falls
// back to prefix match only for malformed entries").
type ipAllowEntry struct {
	network *net.IPNet
	addr    net.IP
	prefix  string
}

// IPAllowList enforces the configured client-address allow-list. An empty
// list allows every address, matching the "unset means unrestricted"
// default.
type IPAllowList struct {
	entries []ipAllowEntry
}

// NewIPAllowList parses each configured entry once at construction time.
func NewIPAllowList(raw []string) *IPAllowList {
	list := &IPAllowList{}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			list.entries = append(list.entries, ipAllowEntry{network: network})
			continue
		}
		if addr := net.ParseIP(entry); addr != nil {
			list.entries = append(list.entries, ipAllowEntry{addr: addr})
			continue
		}
		list.entries = append(list.entries, ipAllowEntry{prefix: entry})
	}
	return list
}

// Empty reports whether no restriction is configured.
func (l *IPAllowList) Empty() bool {
	return len(l.entries) == 0
}

// Allowed reports whether remote (a bare IP, no port) is permitted.
func (l *IPAllowList) Allowed(remote string) bool {
	if l.Empty() {
		return true
	}
	candidate := net.ParseIP(remote)
	for _, e := range l.entries {
		switch {
		case e.network != nil:
			if candidate != nil && e.network.Contains(candidate) {
				return true
			}
		case e.addr != nil:
			if candidate != nil && e.addr.Equal(candidate) {
				return true
			}
		default:
			if strings.HasPrefix(remote, e.prefix) {
				return true
			}
		}
	}
	return false
}

// clientIP extracts the bare address from a net/http request's RemoteAddr
// (host:port), falling back to the raw value when it carries no port.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
