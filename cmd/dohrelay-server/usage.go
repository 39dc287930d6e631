package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ServerProgramName}} -- a DNS Over HTTPS reverse proxy

SYNOPSIS
          {{.ServerProgramName}} [options]

DESCRIPTION
          {{.ServerProgramName}} accepts {{.RFC}} DoH queries at {{.Rfc8484Path}} and forwards each
          one to a set of upstream DoH resolvers concurrently, staggered by a small hedge delay,
          returning whichever acceptable response arrives first. A per-region latency table biases
          future launch order towards upstreams that have historically answered fastest.

          The DNS payload itself is never parsed - it is carried as an opaque binary blob, exactly as
          {{.RFC}} specifies.

          The wildcard interface address and default HTTPS port are used if no listen addresses are
          specified. The Upstream Registry is built from the DOH_UPSTREAMS environment variable
          unioned with any -upstream flags; the built-in public resolver list is used if neither
          supplies anything.

INVOCATION
          The simplest invocation is:

              $ {{.ServerProgramName}}

          at which point you should be able to send DoH queries to the default listen address.

          When {{.ServerProgramName}} is invoked with a TLS Key File the listen connections accept
          HTTPS connections otherwise the listen connections accept HTTP connections. Normally HTTP
          will only be used for testing purposes.

RACING DISPATCHER
          Upstreams are ordered per inbound request by ascending observed latency for the caller's
          region (highest country/CDN-edge header wins; see -log-dispatch). Unobserved upstreams
          sort after every observed one but are still tried, in the order supplied.

          Launch i is staggered -hedge-delay after launch i-1. The first launch to settle with an
          acceptable response (2xx, application/dns-message) wins; every other in-flight launch is
          aborted immediately. If every launch settles unacceptably, the last one to settle is
          returned as-is (a transport failure is returned as 502). If nothing settles acceptably within -safety-timeout, a 504 is returned.

OPERATIONAL ENDPOINTS
          {{.MetricsPath}} serves Prometheus metrics. {{.HealthPath}} returns 200 if the process is
          alive; it never touches any upstream.

OPTIONS
          [-hv] [--version]
          [-A listen `+"`"+`address`+"`"+`[:port] ...] [--upstream `+"`"+`url`+"`"+` ...]

          [--hedge-delay duration] [--safety-timeout duration]
          [-i status-report-interval]

          [--log-http-in] [--log-http-out] [--log-dispatch] [--log-tls-errors] [--log-all]

          [--tls-cert TLS Server Certificate file] ...
          [--tls-key TLS Server Key file] ...
          [--tls-other-roots TLS Root Certificate file] ...
          [--tls-use-system-roots]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out) // This is permanent so we assume an exit summarily
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")

	flagSet.Var(&cfg.listenAddresses, "A",
		"Listen `address` to accept DoH queries (default "+defaultListenAddress+")")
	flagSet.Var(&cfg.upstreams, "upstream",
		"Upstream DoH resolver base `url` (repeatable; default is a built-in public resolver list)")

	flagSet.DurationVar(&cfg.hedgeDelay, "hedge-delay", consts.HedgeDelay,
		"`duration` between staggered upstream launches")
	flagSet.DurationVar(&cfg.safetyTimeout, "safety-timeout", consts.SafetyTimeout,
		"`duration` to wait for any acceptable response before giving up")

	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval` (needs -v set)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")

	flagSet.BoolVar(&cfg.logAll, "log-all", false, "Turns on all other --log-* options")
	flagSet.BoolVar(&cfg.logHTTPIn, "log-http-in", false, "Compact print of inbound HTTP request")
	flagSet.BoolVar(&cfg.logHTTPOut, "log-http-out", false, "Compact print of outbound HTTP response")
	flagSet.BoolVar(&cfg.logDispatch, "log-dispatch", false, "Compact print of per-launch race decisions")
	flagSet.BoolVar(&cfg.logTLSErrors, "log-tls-errors", false, "Print client TLS verification failures")

	// TLS - server (listener) side only; outbound upstream connections use system roots.

	flagSet.Var(&cfg.tlsServerCertFiles, "tls-cert", "TLS Server Certificate `file`")
	flagSet.Var(&cfg.tlsServerKeyFiles, "tls-key", "TLS Server Key `file`")
	flagSet.Var(&cfg.tlsCAFiles, "tls-other-roots", "Non-system Root CA `file` used to validate HTTPS clients")
	flagSet.BoolVar(&cfg.tlsUseSystemRootCAs, "tls-use-system-roots", false,
		"Validate HTTPS clients with root CAs")

	// gops and go pprof settings

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	// Process Constraint parameters

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
