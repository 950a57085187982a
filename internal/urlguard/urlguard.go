// Package urlguard rejects webhook endpoint URLs that are unsafe for the service to call.
//
// Validation is lexical: the literal host string is inspected and no DNS lookup is made,
// so a public name that resolves to a private address passes Validate. Deployments that
// need protection against DNS rebinding install DialControl on the delivery transport,
// which checks the address actually being connected to.
package urlguard

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrInvalidURL wraps every validation failure.
var ErrInvalidURL = errors.New("invalid webhook url")

const (
	MaxURLLength  = 2048
	MaxHostLength = 253
)

var internalSuffixes = []string{".local", ".internal", ".corp", ".home", ".lan", ".intranet"}

var blockedV4 = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/3"), // multicast and everything above it
}

// Validator checks endpoint URLs. The zero value is the production policy.
type Validator struct {
	allowLocalhost bool
}

type Option func(*Validator)

// WithLocalhost permits http(s)://localhost, 127.0.0.1 and [::1] for local development.
func WithLocalhost(allow bool) Option {
	return func(v *Validator) { v.allowLocalhost = allow }
}

func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns nil when raw is safe to register as a webhook endpoint.
func (v *Validator) Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed url", ErrInvalidURL)
	}
	host := strings.ToLower(u.Hostname())
	local := isLocalhost(host)

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !(v.allowLocalhost && local) {
			return fmt.Errorf("%w: scheme must be https", ErrInvalidURL)
		}
	default:
		return fmt.Errorf("%w: scheme must be https", ErrInvalidURL)
	}

	if local {
		if !v.allowLocalhost {
			return fmt.Errorf("%w: localhost is not allowed", ErrInvalidURL)
		}
	} else {
		if err := checkHost(host); err != nil {
			return err
		}
	}

	if len(raw) > MaxURLLength {
		return fmt.Errorf("%w: url longer than %d characters", ErrInvalidURL, MaxURLLength)
	}
	if host == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidURL)
	}
	if len(host) > MaxHostLength {
		return fmt.Errorf("%w: hostname longer than %d characters", ErrInvalidURL, MaxHostLength)
	}
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return fmt.Errorf("%w: hostname cannot start or end with a dot", ErrInvalidURL)
	}
	return nil
}

func checkHost(host string) error {
	if host == "" {
		return nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		if Blocked(ip) {
			return fmt.Errorf("%w: address %s is private or reserved", ErrInvalidURL, ip)
		}
		return nil
	}
	if numericHost(host) {
		return fmt.Errorf("%w: ambiguous numeric hostname", ErrInvalidURL)
	}
	trimmed := strings.TrimSuffix(host, ".")
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(trimmed, suffix) || trimmed == suffix[1:] {
			return fmt.Errorf("%w: internal domain %q is not allowed", ErrInvalidURL, suffix)
		}
	}
	return nil
}

// Blocked reports whether ip is loopback, private, link-local, multicast or reserved.
func Blocked(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.Is4() {
		for _, p := range blockedV4 {
			if p.Contains(ip) {
				return true
			}
		}
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast()
}

func isLocalhost(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap().IsLoopback()
	}
	return false
}

// numericHost catches shorthand IPv4 spellings such as "2130706433" or "0x7f.1" that
// some resolvers expand to loopback or private addresses.
func numericHost(host string) bool {
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" {
			continue
		}
		l := strings.TrimPrefix(label, "0x")
		if l == label {
			if strings.Trim(l, "0123456789") != "" {
				return false
			}
			continue
		}
		if strings.Trim(l, "0123456789abcdef") != "" {
			return false
		}
	}
	return true
}

// DialControl is a net.Dialer Control hook refusing connections to blocked addresses.
// Loopback stays reachable when the validator allows localhost.
func (v *Validator) DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("urlguard: %w", err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("urlguard: unexpected dial address %q", address)
	}
	if v.allowLocalhost && ip.Unmap().IsLoopback() {
		return nil
	}
	if Blocked(ip) {
		return fmt.Errorf("%w: refusing to connect to %s", ErrInvalidURL, ip)
	}
	return nil
}
