package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dohrelay/dohrelay/internal/concurrencytracker"
	"github.com/dohrelay/dohrelay/internal/connectiontracker"
	"github.com/dohrelay/dohrelay/internal/dispatcher"
	"github.com/dohrelay/dohrelay/internal/latency"
	"github.com/dohrelay/dohrelay/internal/region"
	"github.com/dohrelay/dohrelay/internal/shaper"
	"github.com/dohrelay/dohrelay/internal/validator"
)

// maxDNSMessageSize bounds an inbound POST body. RFC 8484 doesn't mandate a limit but a DNS message
// over the classic 64KiB ceiling is not a wire-format-valid query this proxy will ever usefully race.
const maxDNSMessageSize = 65535

type serFailureIndex int

const ( // ser = Server ERror index into failure counter array
	serBadMethod serFailureIndex = iota
	serValidation
	serUpstreamTimeout
	serUpstreamBadGateway
	serWriteFailed
	serArraySize
)

type evIndex int

const ( // ev = EVent index into eventCounters
	evGet evIndex = iota
	evPost
	evOptions
	evListSize
)

type events [evListSize]bool

type stats struct {
	successCount    int               // Queries that returned an acceptable upstream response
	totalLatency    time.Duration     // Duration of all successful (winning-launch) queries
	eventCounters   [evListSize]int   // Events that occur during the course of a query
	failureCounters [serArraySize]int // Errors that stop a query from progressing
}

type server struct {
	stdout        io.Writer
	dispatcher    *dispatcher.Dispatcher
	table         *latency.Table
	upstreams     []string
	listenAddress string
	server        *http.Server               // Kept solely for the stop() method
	ccTrk         concurrencytracker.Counter // Track peak concurrent server requests
	connTrk       *connectiontracker.Tracker

	mu sync.RWMutex // Protects everything below here
	stats
}

// httpLogCapture helps us capture errors logged by net/http so as to record HTTPS client
// certificate failures. There is no well defined way of detecting a client connecting with an
// invalid certificate, so we scrape the error messages the http package logs.
type httpLogCapture struct {
	server *server
	stdout io.Writer
	logit  bool
}

func (t *httpLogCapture) Write(data []byte) (int, error) {
	if t.logit {
		fmt.Fprint(t.stdout, "Client TLS Error: ")
		return t.stdout.Write(data)
	}

	return len(data), nil
}

// start starts up a HTTP/HTTPS Server and writes to errorChan at server exit.
//
// tlsConfig is modified by the h2 start-up code prior to net/http cloning it, so we clone it
// ourselves to avoid sharing a single mutable config across multiple listeners.
func (t *server) start(tlsConfig *tls.Config, errorChan chan error, wg *sync.WaitGroup) {
	t.server = &http.Server{
		Addr:     t.listenAddress,
		ErrorLog: log.New(&httpLogCapture{server: t, stdout: t.stdout, logit: cfg.logTLSErrors}, "", 0),
		Handler:  t.newRouter(),
	}
	if tlsConfig != nil {
		t.server.TLSConfig = tlsConfig.Clone()
	}

	t.connTrk = connectiontracker.New(t.listenName())
	t.server.ConnState = func(c net.Conn, state http.ConnState) {
		t.connTrk.ConnState(c.RemoteAddr().String(), time.Now(), state)
	}

	wg.Add(1)
	go func() {
		if cfg.tlsServerKeyFiles.NArg() > 0 {
			errorChan <- t.server.ListenAndServeTLS("", "") // Keys and certs are in tlsConfig
		} else {
			errorChan <- t.server.ListenAndServe() // Only returns on start-up error or shutdown request
		}
		wg.Done()
	}()
}

// newRouter creates the routing infrastructure independently of the server for ease of testing.
func (t *server) newRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(consts.Rfc8484Path, func(w http.ResponseWriter, r *http.Request) {
		t.serveDoH(w, r)
	})
	mux.Handle(consts.MetricsPath, promhttp.Handler())
	mux.HandleFunc(consts.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return mux
}

// serveDoH is called once per query in a newly created go-routine by net/http.
func (t *server) serveDoH(writer http.ResponseWriter, httpReq *http.Request) {
	var evs events

	t.ccTrk.Add() // Track peak concurrency
	defer t.ccTrk.Done()

	if t.connTrk != nil {
		t.connTrk.SessionAdd(httpReq.RemoteAddr)
		defer t.connTrk.SessionDone(httpReq.RemoteAddr)
	}

	if cfg.logHTTPIn {
		fmt.Fprintln(t.stdout, "HI:"+httpReq.RemoteAddr, httpReq.Method, httpReq.URL.String())
	}

	if httpReq.Method == http.MethodOptions {
		t.servePreflight(writer)
		return
	}

	if httpReq.Method != http.MethodGet && httpReq.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)
		t.error(writer, httpReq.RemoteAddr, http.StatusMethodNotAllowed,
			"Method "+httpReq.Method+" not allowed")
		t.addFailureStats(serBadMethod, evs)
		return
	}

	reqRegion := region.Of(httpReq.Header)
	req := dispatcher.Request{Region: reqRegion, Upstreams: t.table.Order(reqRegion, t.upstreams)}

	if httpReq.Method == http.MethodGet {
		evs[evGet] = true
		dns, err := validator.GETQueryParam(httpReq)
		if err != nil {
			t.rejectValidation(writer, httpReq.RemoteAddr, err, evs)
			return
		}
		req.Method = http.MethodGet
		req.DNSParam = dns
	} else {
		evs[evPost] = true
		body, err := validator.POSTBody(httpReq, maxDNSMessageSize)
		if err != nil {
			t.rejectValidation(writer, httpReq.RemoteAddr, err, evs)
			return
		}
		req.Method = http.MethodPost
		req.Body = body
	}

	startTime := time.Now()
	result := t.dispatcher.Dispatch(httpReq.Context(), req)
	duration := time.Now().Sub(startTime)

	shaper.ApplyCORS(result.Header)

	switch {
	case result.StatusCode >= 200 && result.StatusCode < 300:
		shaper.ApplySuccessCacheControl(result.Header)
		t.addSuccessStats(duration, evs)
	case result.StatusCode == http.StatusGatewayTimeout:
		t.addFailureStats(serUpstreamTimeout, evs)
	default:
		t.addFailureStats(serUpstreamBadGateway, evs)
	}

	for k, vs := range result.Header {
		for _, v := range vs {
			writer.Header().Add(k, v)
		}
	}
	writer.WriteHeader(result.StatusCode)

	if result.Body != nil {
		defer result.Body.Close()
		if _, err := io.Copy(writer, result.Body); err != nil {
			t.addFailureStats(serWriteFailed, evs)
			if cfg.logHTTPOut {
				fmt.Fprintln(t.stdout, "HE:Write failed:", err.Error())
			}
			return
		}
	}

	if cfg.logHTTPOut {
		fmt.Fprintln(t.stdout, "HO:", httpReq.RemoteAddr, result.StatusCode, duration)
	}
	if cfg.logDispatch {
		fmt.Fprintln(t.stdout, "DI:", httpReq.RemoteAddr, "region="+req.Region, "status="+fmt.Sprint(result.StatusCode), duration)
	}
}

// servePreflight answers an OPTIONS request per spec.md §4.7: CORS headers only, no dispatch.
func (t *server) servePreflight(writer http.ResponseWriter) {
	shaper.ApplyCORS(writer.Header())
	writer.WriteHeader(http.StatusNoContent)
}

func (t *server) rejectValidation(writer http.ResponseWriter, remoteAddr string, err error, evs events) {
	verr, ok := err.(*validator.Error)
	status := http.StatusBadRequest
	msg := err.Error()
	if ok {
		status = verr.StatusCode
		msg = verr.Message
	}
	t.error(writer, remoteAddr, status, msg)
	t.addFailureStats(serValidation, evs)
}

// error is our generic HTTP error responder.
func (t *server) error(writer http.ResponseWriter, remoteAddr string, statusCode int, msg string) {
	shaper.ApplyCORS(writer.Header())
	http.Error(writer, msg, statusCode)
	if cfg.logHTTPOut {
		fmt.Fprintln(t.stdout, "HE:", remoteAddr, statusCode, msg)
	}
}

// stop performs an orderly shutdown of listen sockets. Mainly for tests.
func (t *server) stop() {
	if t.server != nil {
		err := t.server.Shutdown(context.Background())
		if cfg.logHTTPOut && err != nil {
			fmt.Fprintln(t.stdout, "HE:Shutdown:", err.Error())
		}
	}
}
