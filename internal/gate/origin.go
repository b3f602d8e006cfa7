package gate

import (
	"net/url"
	"strings"
)

const msgForbidden = "Forbidden"

// OriginValidator matches the declared Origin and Referer of a request
// against a static allow-list. It is stateless after construction.
type OriginValidator struct {
	allowed map[string]bool
}

// NewOriginValidator builds a validator. Entries are compared on
// scheme://host[:port], so "https://example.com/" and "https://example.com"
// are the same entry.
func NewOriginValidator(origins ...string) *OriginValidator {
	set := make(map[string]bool, len(origins))
	for _, o := range origins {
		if key := originKey(o); key != "" {
			set[key] = true
		}
	}
	return &OriginValidator{allowed: set}
}

// Allow reports whether either header names a trusted origin. A request with
// neither header fails closed.
func (v *OriginValidator) Allow(origin, referer string) bool {
	if key := originKey(origin); key != "" && v.allowed[key] {
		return true
	}
	if key := originKey(referer); key != "" && v.allowed[key] {
		return true
	}
	return false
}

// originKey reduces an Origin or Referer value to lower-case scheme://host.
// Opaque origins ("null") and values without a scheme and host yield "".
func originKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// OriginCheck rejects requests whose Origin and Referer are both untrusted.
func OriginCheck(v *OriginValidator) Check {
	return func(r *Request) *Rejection {
		if v.Allow(r.Origin, r.Referer) {
			return nil
		}
		return &Rejection{
			Check:   "origin",
			Class:   ClassAuth,
			Message: msgForbidden,
			Detail:  "origin=" + r.Origin + " referer=" + r.Referer + " not in allow-list",
		}
	}
}
