/*
Package dispatcher implements the Racing Dispatcher: for one inbound request it launches staggered,
cancellable fetches against an ordered list of upstream DoH resolvers, selects the first acceptable
response, aborts the losers, and reports the winner's latency back to the caller's Latency Table.

The dispatcher never raises an error to its caller - every code path, including "no upstreams
configured" and "safety timeout reached", resolves to a *Result the HTTP Handler can write directly
to the client (spec.md §7).
*/
package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// HTTPClientDo is the only http.Client method the dispatcher needs. It mirrors the teacher's
// resolver/doh seam so tests can supply a synthetic client rather than hitting the network.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// Config carries the tunables described by spec.md §4.5. Zero values fall back to the package
// defaults in internal/constants, per spec.md §9's "configurable constant, not a runtime knob"
// guidance.
type Config struct {
	HedgeDelay    time.Duration
	SafetyTimeout time.Duration
}

// LatencyObserver is the subset of internal/latency.Table the dispatcher depends on. Expressed as
// an interface so tests can supply a recorder instead of a live table.
type LatencyObserver interface {
	Observe(region, upstream string, ms float64)
}

// Dispatcher races an ordered upstream list for a single inbound request.
type Dispatcher struct {
	client  HTTPClientDo
	config  Config
	table   LatencyObserver
	metrics *Metrics
}

// New constructs a Dispatcher. table may be nil in tests that don't care about latency feedback.
func New(client HTTPClientDo, config Config, table LatencyObserver, metrics *Metrics) *Dispatcher {
	consts := constants.Get()
	if config.HedgeDelay <= 0 {
		config.HedgeDelay = consts.HedgeDelay
	}
	if config.SafetyTimeout <= 0 {
		config.SafetyTimeout = consts.SafetyTimeout
	}

	return &Dispatcher{client: client, config: config, table: table, metrics: metrics}
}

// Request is the transient Request Fingerprint the dispatcher races on behalf of.
type Request struct {
	Method    string // http.MethodGet or http.MethodPost
	DNSParam  string // GET only: the validated, still-encoded dns query param
	Body      []byte // POST only: the raw body, shared read-only across every launch
	Region    string
	Upstreams []string // Already ordered by the Latency Table
}

// Result is what the HTTP Handler writes back to the client.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

type outcome struct {
	idx        int
	statusCode int
	header     http.Header
	body       io.ReadCloser
	elapsedMs  float64
}

// Dispatch runs the hedged race described by spec.md §4.5 and always returns a non-nil Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Result {
	n := len(req.Upstreams)
	if n == 0 { // spec.md §4.5 edge case: no upstreams, return 504 immediately
		return plainTextResult(http.StatusGatewayTimeout, "Upstream timeout")
	}

	outcomeCh := make(chan outcome, n)
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	var cmu sync.Mutex
	cancels := make([]context.CancelFunc, n)
	setCancel := func(i int, c context.CancelFunc) {
		cmu.Lock()
		cancels[i] = c
		cmu.Unlock()
	}
	abortAllExcept := func(winner int) {
		cmu.Lock()
		defer cmu.Unlock()
		for i, c := range cancels {
			if i == winner || c == nil {
				continue
			}
			c() // best-effort; cancellation errors are swallowed by the launch goroutine itself
		}
	}

	launch := func(i int) {
		lctx, cancel := context.WithCancel(ctx)
		setCancel(i, cancel)
		start := time.Now()
		go func() {
			oc := d.fetch(lctx, i, req)
			oc.elapsedMs = float64(time.Since(start)) / float64(time.Millisecond)
			select {
			case outcomeCh <- oc:
			case <-stopCh:
			}
		}()
	}

	go d.schedule(n, stopCh, launch)

	safetyTimer := time.NewTimer(d.config.SafetyTimeout)
	defer safetyTimer.Stop()

	var lastUnacceptable *outcome
	settled := 0

	for {
		select {
		case oc := <-outcomeCh:
			settled++
			if d.acceptable(oc) {
				stop()
				abortAllExcept(oc.idx)
				if d.table != nil {
					d.table.Observe(req.Region, req.Upstreams[oc.idx], oc.elapsedMs)
				}
				d.recordOutcome(req.Upstreams[oc.idx], "win", oc.elapsedMs)

				return d.shapeWinner(oc)
			}

			d.recordOutcome(req.Upstreams[oc.idx], outcomeClass(oc), oc.elapsedMs)
			ocCopy := oc
			lastUnacceptable = &ocCopy

			if settled == n { // Open Question resolution: fallback fires on settlement count, not index
				stop()

				return d.shapeFallback(lastUnacceptable)
			}

		case <-safetyTimer.C:
			stop()
			abortAllExcept(-1) // no winner; abort every still-running launch

			return plainTextResult(http.StatusGatewayTimeout, "Upstream timeout")
		}
	}
}

// schedule launches index i at wall-clock offset i*HedgeDelay from dispatcher entry, stopping
// immediately (including not launching any remaining index) once stopCh closes.
func (d *Dispatcher) schedule(n int, stopCh <-chan struct{}, launch func(int)) {
	for i := 0; i < n; i++ {
		if i > 0 {
			timer := time.NewTimer(d.config.HedgeDelay)
			select {
			case <-timer.C:
			case <-stopCh:
				timer.Stop()

				return
			}
		}
		select {
		case <-stopCh:
			return
		default:
		}
		launch(i)
	}
}

// fetch issues a single outbound request to req.Upstreams[idx] and returns its settled Outcome. A
// transport failure (connection, TLS, DNS resolution, or context cancellation) is represented as a
// synthetic 599 response rather than propagated as an error, per spec.md §4.5.
func (d *Dispatcher) fetch(ctx context.Context, idx int, req Request) outcome {
	consts := constants.Get()
	upstreamURL := req.Upstreams[idx]

	var httpReq *http.Request
	var err error

	if req.Method == http.MethodGet {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet,
			upstreamURL+"?"+consts.Rfc8484QueryParam+"="+url.QueryEscape(req.DNSParam), nil)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost,
			upstreamURL, bytes.NewReader(req.Body)) // shared buffer, read-only per launch
	}
	if err != nil {
		return outcome{idx: idx, statusCode: 599, header: http.Header{}}
	}

	httpReq.Header.Set(consts.AcceptHeader, consts.Rfc8484AcceptValue)
	if req.Method == http.MethodPost {
		httpReq.Header.Set(consts.ContentTypeHeader, consts.Rfc8484AcceptValue)
	}
	httpReq.Header.Set(consts.CacheControlHeader, "no-cache")
	httpReq.Header.Set(consts.PragmaHeader, "no-cache")
	httpReq.Header.Set(consts.UserAgentHeader, consts.PackageName+"/"+consts.Version+" ("+consts.PackageURL+")")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return outcome{idx: idx, statusCode: 599, header: http.Header{}}
	}

	return outcome{idx: idx, statusCode: resp.StatusCode, header: resp.Header, body: resp.Body}
}

// acceptable implements the success predicate of spec.md §4.5 step 2.
func (d *Dispatcher) acceptable(oc outcome) bool {
	if oc.statusCode < 200 || oc.statusCode >= 300 {
		return false
	}
	ct := oc.header.Get(constants.Get().ContentTypeHeader)

	return strings.Contains(ct, constants.Get().Rfc8484AcceptValue) || len(strings.TrimSpace(ct)) == 0
}

func outcomeClass(oc outcome) string {
	if oc.statusCode == 599 {
		return "transport_error"
	}

	return "protocol_error"
}

// shapeWinner builds the Result for the first acceptable outcome, forcing content-type if the
// upstream omitted it.
func (d *Dispatcher) shapeWinner(oc outcome) *Result {
	h := oc.header.Clone()
	if len(strings.TrimSpace(h.Get(constants.Get().ContentTypeHeader))) == 0 {
		h.Set(constants.Get().ContentTypeHeader, constants.Get().Rfc8484AcceptValue)
	}

	return &Result{StatusCode: oc.statusCode, Header: h, Body: oc.body}
}

// shapeFallback builds the Result returned when every launch settled unacceptably (spec.md §4.5
// step 4): status passthrough, except that a synthetic 599 transport failure and a status of 0 are
// both rewritten to 502.
func (d *Dispatcher) shapeFallback(oc *outcome) *Result {
	status := oc.statusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	if status == 599 {
		status = http.StatusBadGateway
	}
	h := oc.header
	if h == nil {
		h = http.Header{}
	}

	return &Result{StatusCode: status, Header: h.Clone(), Body: oc.body}
}

func plainTextResult(status int, msg string) *Result {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")

	return &Result{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader([]byte(msg)))}
}
