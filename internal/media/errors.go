package media

import "strings"

// ErrorCategory classifies runtime errors reported on the bus for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers connection, timeout and socket failures.
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec covers decode/encode and negotiation failures.
	ErrCategoryCodec
	// ErrCategoryAuth covers authentication and authorization failures.
	ErrCategoryAuth
	// ErrCategoryResource covers files, devices and disk space.
	ErrCategoryResource
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

// Categories lists every category in declaration order.
var Categories = []ErrorCategory{
	ErrCategoryNetwork,
	ErrCategoryCodec,
	ErrCategoryAuth,
	ErrCategoryResource,
	ErrCategoryUnknown,
}

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication",
		"credentials", "password", "username",
	}
	codecKeywords = []string{
		"codec", "decode", "encode", "negotiation", "caps", "h264", "h265",
		"jpeg", "not negotiated", "no decoder", "missing plugin", "sps", "pps",
	}
	resourceKeywords = []string{
		"no such file", "permission denied", "no space", "could not open",
		"resource", "read-only", "location",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve",
		"socket", "tcp", "udp", "rtsp", "refused", "could not connect",
		"failed to connect",
	}
)

// Classify categorizes an error message by keyword heuristics. Runtimes do
// not expose error domains uniformly, so the message text and debug string
// are all there is to go on.
func Classify(msg *Message) ErrorCategory {
	if msg == nil || msg.Err == nil {
		return ErrCategoryUnknown
	}
	combined := strings.ToLower(msg.Err.Error() + " " + msg.Debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
