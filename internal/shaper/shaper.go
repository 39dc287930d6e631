/*
Package shaper is the Response Shaper: it applies CORS, security, and cache-control headers to an
outbound HTTP response without clobbering anything already present (other than the handful of
headers the DoH contract mandates).
*/
package shaper

import (
	"net/http"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// ApplyCORS sets the CORS/security headers enumerated in spec.md §4.6. It always overwrites the
// CORS triple and x-content-type-options (the proxy is the authority on who may call it) but only
// sets content-security-policy if it isn't already present. cache-control is not touched here; see
// ApplySuccessCacheControl.
func ApplyCORS(h http.Header) {
	consts := constants.Get()

	h.Set("Access-Control-Allow-Origin", consts.CORSAllowOrigin)
	h.Set("Access-Control-Allow-Methods", consts.CORSAllowMethods)
	h.Set("Access-Control-Allow-Headers", consts.CORSAllowHeaders)
	h.Set("X-Content-Type-Options", consts.XContentTypeOpts)

	if h.Get(consts.CSPHeader) == "" {
		h.Set(consts.CSPHeader, consts.CSPValue)
	}
}

// ApplySuccessCacheControl sets cache-control for a successful DoH response if one isn't already
// present on it (e.g. forwarded from the upstream).
func ApplySuccessCacheControl(h http.Header) {
	consts := constants.Get()
	if h.Get(consts.CacheControlHeader) == "" {
		h.Set(consts.CacheControlHeader, consts.CacheControlDoH)
	}
}

// ForceDoHContentType rewrites content-type to application/dns-message, which the Racing
// Dispatcher does whenever an acceptable response arrived with no (or an empty) content-type.
func ForceDoHContentType(h http.Header) {
	h.Set(constants.Get().ContentTypeHeader, constants.Get().Rfc8484AcceptValue)
}
