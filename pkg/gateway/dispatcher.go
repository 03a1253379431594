package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/metrics"
	"github.com/rojolang/rintento-go/pkg/performer"
	"github.com/rojolang/rintento-go/pkg/wit"
)

// maxDrain bounds the unread body discarded to keep a connection alive
const maxDrain = 1 << 20

// Options are shared by every dispatcher of a server
type Options struct {
	Performer      performer.Performer
	// Executor runs Perform calls off the connection loop. Nil performs inline.
	Executor       wit.Executor
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
	// MaxConnections caps live connections, 0 means unbounded
	MaxConnections int
	ReadTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Performer == nil {
		o.Performer = performer.Discard
	}
	if o.Executor == nil {
		o.Executor = wit.Inline
	}
	if o.Logger == nil {
		o.Logger = logger.GetGlobalLogger()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Discard()
	}
	return o
}

// Dispatcher serves the requests of one client connection in strict
// sequence: read header, select handler, handle, respond, perform.
type Dispatcher struct {
	identity uint64
	conn     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	chain    *Chain
	opts     Options
	log      *logger.Logger
	done     func(uint64)
	once     sync.Once
}

// NewDispatcher binds a connection to a chain. done is called exactly once
// when the connection is finished.
func NewDispatcher(identity uint64, conn net.Conn, chain *Chain, opts Options, done func(uint64)) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		identity: identity,
		conn:     conn,
		br:       bufio.NewReader(conn),
		bw:       bufio.NewWriter(conn),
		chain:    chain,
		opts:     opts,
		log:      opts.Logger.WithComponent("dispatcher").WithField("connection", identity),
		done:     done,
	}
}

func (d *Dispatcher) Identity() uint64 {
	return d.identity
}

// Dispatch runs the request loop until the client goes away, a fatal error
// happens or ctx is done
func (d *Dispatcher) Dispatch(ctx context.Context) {
	d.opts.Metrics.ActiveConnections.Inc()
	defer d.finalize()

	stop := context.AfterFunc(ctx, func() { d.conn.Close() })
	defer stop()

	d.log.LogConnectionEvent("accepted", d.identity, map[string]interface{}{"remote": d.conn.RemoteAddr().String()})
	for d.serve(ctx) {
	}
}

// Close interrupts the connection. Dispatch finalizes on its own.
func (d *Dispatcher) Close() error {
	return d.conn.Close()
}

// serve handles one request and reports whether the connection stays open
func (d *Dispatcher) serve(ctx context.Context) bool {
	if d.opts.ReadTimeout > 0 {
		d.conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	}
	hr, err := http.ReadRequest(d.br)
	if err != nil {
		if isGraceful(err) || ctx.Err() != nil {
			d.log.LogConnectionEvent("closed", d.identity, nil)
			return false
		}
		d.log.WithError(err).Warn("Malformed request")
		d.write(newResponse(nil, nil, intent.WrapError(err, "malformed request", intent.ErrCodeBadRequest)), true)
		return false
	}
	d.conn.SetReadDeadline(time.Time{})

	req := newRequest(hr, uuid.NewString(), d.identity, d.conn)
	req.interrupt = func() { d.conn.SetReadDeadline(time.Now()) }

	h := d.chain.Select(req)
	started := time.Now()
	utterances, herr := d.handle(ctx, h, req)
	d.conn.SetReadDeadline(time.Time{})
	d.opts.Metrics.ObserveRequest(routeLabel(d.chain, req), outcomeOf(herr))

	closing := req.Close || req.unreadBody() || ctx.Err() != nil
	d.log.WithFields(map[string]interface{}{
		"request_id": req.ID,
		"method":     req.Method,
		"path":       req.URL.Path,
		"status":     statusOf(herr),
		"duration":   time.Since(started).String(),
	}).Debug("Request handled")

	resp := newResponse(req, utterances, herr)
	if !d.write(resp, closing) {
		return false
	}

	if herr == nil {
		d.perform(ctx, req.ID, utterances)
	}

	if closing {
		return false
	}
	return d.drain(req)
}

// perform hands the utterances to the executor. The task outlives the
// connection so a shutdown does not drop queued results.
func (d *Dispatcher) perform(ctx context.Context, id string, utterances intent.Utterances) {
	pctx := performer.WithRequestID(context.WithoutCancel(ctx), id)
	log := d.log.WithField("request_id", id)
	d.opts.Executor.Execute(func() {
		if err := d.opts.Performer.Perform(pctx, utterances); err != nil {
			log.WithError(err).Warn("Perform failed")
		}
	})
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return StatusFor(err)
}

// handle runs h with panics turned into an error for this request only
func (d *Dispatcher) handle(ctx context.Context, h Handler, req *Request) (utterances intent.Utterances, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Errorf("Handler panic on %s %s: %v", req.Method, req.URL.Path, rec)
			utterances = nil
			err = intent.NewUnknownError(fmt.Errorf("handler panic: %v", rec))
			req.Close = true
		}
	}()
	return h.Handle(ctx, req)
}

func (d *Dispatcher) write(resp *http.Response, closing bool) bool {
	resp.Close = closing
	err := resp.Write(d.bw)
	if err == nil {
		err = d.bw.Flush()
	}
	if err != nil {
		if !isGraceful(err) {
			d.log.WithError(err).Warn("Writing response failed")
		}
		return false
	}
	return true
}

// drain discards what is left of the request body so the next header can be
// read
func (d *Dispatcher) drain(req *Request) bool {
	if req.body == nil {
		return true
	}
	n, err := io.CopyN(io.Discard, req.body.body, maxDrain+1)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err == nil && n > maxDrain {
		d.log.Debugf("Unread body over %d bytes, closing", maxDrain)
	}
	return false
}

func (d *Dispatcher) finalize() {
	d.once.Do(func() {
		d.conn.Close()
		d.opts.Metrics.ActiveConnections.Dec()
		if d.done != nil {
			d.done(d.identity)
		}
	})
}

// isGraceful reports a peer that went away between requests
func isGraceful(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
