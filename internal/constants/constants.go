/*
Package constants provides common values used across all dohrelay packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ServerProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import "time"

// Constants contains the system-wide constants
type Constants struct {
	ServerProgramName string // Package related constants
	Version           string
	PackageName       string
	PackageURL        string
	RFC               string

	HTTPSDefaultPort string // HTTP related constants

	AcceptHeader       string // Place in every outbound upstream request
	ContentTypeHeader  string
	UserAgentHeader    string
	CacheControlHeader string
	PragmaHeader       string

	Rfc8484AcceptValue string

	Rfc8484Path       string
	Rfc8484QueryParam string

	MetricsPath string // Operational surface, not part of the DoH contract
	HealthPath  string

	RegionHeaderCountry string // Region Key header priority order, highest first
	RegionHeaderCF      string
	RegionHeaderVercel  string
	RegionGlobal        string // Fallback Region Key

	CORSAllowOrigin  string // Response Shaper headers
	CORSAllowMethods string
	CORSAllowHeaders string
	XContentTypeOpts string
	CSPHeader        string
	CSPValue         string
	CacheControlDoH  string

	HedgeDelay     time.Duration // Racing Dispatcher defaults - operator-overridable, not hard-coded knobs
	SafetyTimeout  time.Duration
	LatencyEMAlpha float64

	DefaultUpstreams []string // Used when DOH_UPSTREAMS is absent/blank - an implementation detail
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ServerProgramName: "dohrelay-server",
		Version:           "v0.1.0",
		PackageName:       "DoH Relay",
		PackageURL:        "https://github.com/dohrelay/dohrelay",
		RFC:               "RFC8484",

		HTTPSDefaultPort: "8443",

		AcceptHeader:       "Accept",
		ContentTypeHeader:  "Content-Type",
		UserAgentHeader:    "User-Agent",
		CacheControlHeader: "Cache-Control",
		PragmaHeader:       "Pragma",

		Rfc8484AcceptValue: "application/dns-message",

		Rfc8484Path:       "/dns-query",
		Rfc8484QueryParam: "dns",

		MetricsPath: "/metrics",
		HealthPath:  "/healthz",

		RegionHeaderCountry: "x-vercel-ip-country",
		RegionHeaderCF:      "cf-ipcountry",
		RegionHeaderVercel:  "x-vercel-id",
		RegionGlobal:        "GLOBAL",

		CORSAllowOrigin:  "*",
		CORSAllowMethods: "GET, POST, OPTIONS",
		CORSAllowHeaders: "Content-Type, Accept",
		XContentTypeOpts: "nosniff",
		CSPHeader:        "Content-Security-Policy",
		CSPValue:         "default-src 'none'",
		CacheControlDoH:  "public, max-age=60, s-maxage=300",

		HedgeDelay:     35 * time.Millisecond,
		SafetyTimeout:  3000 * time.Millisecond,
		LatencyEMAlpha: 0.3,

		DefaultUpstreams: []string{
			"https://cloudflare-dns.com/dns-query",
			"https://dns.google/dns-query",
			"https://dns.quad9.net/dns-query",
			"https://doh.opendns.com/dns-query",
			"https://dns.nextdns.io/dns-query",
			"https://doh.dns.sb/dns-query",
		},
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
