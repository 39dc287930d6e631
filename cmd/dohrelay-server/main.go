// Listen for inbound DNS Over HTTPS queries and race them across a set of upstream DoH resolvers.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/dohrelay/dohrelay/internal/constants"
	dispatch "github.com/dohrelay/dohrelay/internal/dispatcher"
	"github.com/dohrelay/dohrelay/internal/latency"
	"github.com/dohrelay/dohrelay/internal/osutil"
	"github.com/dohrelay/dohrelay/internal/reporter"
	"github.com/dohrelay/dohrelay/internal/tlsutil"
	"github.com/dohrelay/dohrelay/internal/upstream"
)

// Program-wide variables
var (
	consts               = constants.Get()
	cfg                  *config
	defaultListenAddress = ":" + consts.HTTPSDefaultPort

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ServerProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

//////////////////////////////////////////////////////////////////////
// main wrappers make it easy for test programs
//////////////////////////////////////////////////////////////////////

// mainInit resets everything such that mainExecute() can be called multiple times in one program
// execution. stopChannel is buffered as the reader may disappear if there is a fatal error and
// multiple writers may try to write to the channel and we don't want those writers to stall forever.
func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	mainState(Initial)
	stopChannel = make(chan os.Signal, 4) // All reasonable signals cause us to quit or stats report
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	defer mainState(Stopped) // Tell testers we've stopped even on error returns
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ServerProgramName, "Version:", consts.Version)
		return 0
	}

	if flagSet.NArg() > 0 {
		return fatal("Unexpected parameters on the command line", strings.Join(flagSet.Args(), " "))
	}

	if cfg.logAll {
		cfg.logHTTPIn = true
		cfg.logHTTPOut = true
		cfg.logDispatch = true
		cfg.logTLSErrors = true
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops agent.Listen:", err)
		}
		defer agent.Close()
	}

	var reporters []reporter.Reporter // Track of all reportables for periodic reporting
	var servers []*server             // Track of all servers so we can shut them down

	// Build the Upstream Registry and the process-wide Latency Table. Both are shared across every
	// listen address - there is exactly one race per inbound request regardless of which socket it
	// arrived on.

	// DOH_UPSTREAMS and -upstream are loaded together so the built-in list is only used when neither
	// supplies anything.
	upstreams := upstream.Union(upstream.Load(os.Getenv("DOH_UPSTREAMS")+"\n"+
		strings.Join(cfg.upstreams.Args(), "\n")), nil)
	table := latency.New()
	reporters = append(reporters, table)

	metrics := dispatch.NewMetrics(prometheus.DefaultRegisterer)

	clientTLSConfig, err := tlsutil.NewClientTLSConfig(true, nil, "", "")
	if err != nil {
		return fatal(err)
	}
	transport := &http.Transport{TLSClientConfig: clientTLSConfig}
	if err := http2.ConfigureTransport(transport); err != nil {
		return fatal(err)
	}
	httpClient := &http.Client{Transport: transport}

	disp := dispatch.New(httpClient, dispatch.Config{HedgeDelay: cfg.hedgeDelay, SafetyTimeout: cfg.safetyTimeout},
		table, metrics)

	// Create a TLS configuration for the inbound listener. This is where we load in our cert/key
	// files and possibly enable verification of client certs.

	serverTLSConfig, err := tlsutil.NewServerTLSConfig(cfg.tlsUseSystemRootCAs, cfg.tlsCAFiles.Args(),
		cfg.tlsServerCertFiles.Args(), cfg.tlsServerKeyFiles.Args())
	if err != nil {
		return fatal(err)
	}

	if cfg.listenAddresses.NArg() == 0 { // Use wildcard if none supplied
		cfg.listenAddresses.Set(defaultListenAddress)
	}

	// Start CPU profiling now that most error checking is complete

	if len(cfg.cpuprofile) > 0 {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	// Memory profile is triggered at the end of the program but we open the output file and hold it
	// open prior to any possible chroot/setuid/setgid action.

	var memProfileFile *os.File
	if len(cfg.memprofile) > 0 {
		memProfileFile, err = os.Create(cfg.memprofile)
		if err != nil {
			return fatal(err)
		}
		defer memProfileFile.Close()
	}

	// Start a server for each listen address

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.ServerProgramName, consts.Version, "Starting")
		for cn := range serverTLSConfig.NameToCertificate { // Print CNs associated with certs loaded
			fmt.Fprintln(stdout, "Accepting TLS CN:", cn)
		}
		fmt.Fprintln(stdout, "Upstreams:", strings.Join(upstreams, ", "))
	}

	errorChannel := make(chan error, cfg.listenAddresses.NArg())
	wg := &sync.WaitGroup{} // Wait on all servers

	for _, addr := range cfg.listenAddresses.Args() {
		ip := net.ParseIP(addr) // We have to wrap unadorned ipv6 addresses so we can append port
		if ip != nil && ip.To16() != nil {
			addr = "[" + addr + "]" // It's naked, so wrap it
		}

		// If addr is neither v4addr:port, [v6addr]:port or host:port, append the default port
		if !(strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")) {
			addr += ":" + consts.HTTPSDefaultPort
		}

		s := &server{stdout: stdout, dispatcher: disp, table: table, upstreams: upstreams, listenAddress: addr}
		s.start(serverTLSConfig, errorChannel, wg)
		if cfg.verbose {
			fmt.Fprintln(stdout, "Listening:", s.listenName())
		}
		reporters = append(reporters, s)
		reporters = append(reporters, s.connTrk)
		servers = append(servers, s)
	}

	// Constrain the process via setuid/setgid/chroot. This is a no-op call if all parameters are
	// empty strings.
	//
	// We have no way of knowing for sure when the servers we just started actually get around to
	// opening their sockets, so we delegate the constraint call to a go-routine after a generous
	// pause rather than stall the main select loop.

	go func(setuidName, setgidName, chrootDir string, verbose bool, stdout io.Writer) {
		time.Sleep(3 * time.Second)
		err := osutil.Constrain(setuidName, setgidName, chrootDir)
		if err != nil {
			errorChannel <- err // Force main go-routine to exit
			return
		}
		if verbose {
			fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
		}
	}(cfg.setuidName, cfg.setgidName, cfg.chrootDir, cfg.verbose, stdout)

	// Loop forever giving periodic status reports and checking for a termination event.

	mainState(Started) // Tell testers we're up and running
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, reporters)
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running // All signals bar USR1 cause loop exit

		case err := <-errorChannel:
			return fatal(err) // No cleanup if we get a server startup error

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	// Shutting down

	for _, s := range servers {
		s.stop()
	}
	mainState(Stopped) // Tell testers we've stopped accepting requests
	wg.Wait()          // Wait for all servers to completely shut down

	if cfg.verbose {
		statusReport("Status", true, reporters) // One last report prior to exiting
		fmt.Fprintln(stdout, consts.ServerProgramName, consts.Version, "Exiting after", uptime())
	}

	// Memory profile is written at the end of the program

	if memProfileFile != nil {
		runtime.GC() // get up-to-date statistics
		err := pprof.WriteHeapProfile(memProfileFile)
		if err != nil {
			return fatal(err)
		}
	}

	return 0
}

// nextInterval calculates the duration to now+modulo interval. If now is 00:01:17 and the interval
// is 15m then the returned duration is 13m43s which is the distance to 00:15:00. The idea is to
// provide a wait/sleep value which gets the caller to the next interval tick-over.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// uptime calculates how long this server has been running and returns a log-friendly,
// granularity-appropriate representation of that duration.
func uptime() string {
	return time.Now().Sub(startTime).Truncate(time.Second).String()
}

// statusReport prints stats about the server and all known reporters
func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ServerProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
