package main

import (
	"time"

	"github.com/dohrelay/dohrelay/internal/flagutil"
)

type config struct {
	gops    bool
	help    bool
	verbose bool
	version bool

	listenAddresses flagutil.StringValue // Addresses for inbound DoH requests
	upstreams       flagutil.StringValue // Upstream DoH resolver base URLs, repeatable

	hedgeDelay     time.Duration
	safetyTimeout  time.Duration
	statusInterval time.Duration

	logAll       bool // Turns on all other log options
	logHTTPIn    bool // Compact print of inbound HTTP request
	logHTTPOut   bool // Compact print of outbound HTTP response
	logDispatch  bool // Per-launch race decisions (which upstream launched/won/lost)
	logTLSErrors bool // Print client TLS verification failures

	tlsServerCertFiles  flagutil.StringValue
	tlsServerKeyFiles   flagutil.StringValue
	tlsCAFiles          flagutil.StringValue // Non-system root CAs for verifying clients
	tlsUseSystemRootCAs bool                 // Verify inbound client certs against system roots too

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}
