// Package gateway accepts client connections and relays their requests to the
// recognition backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/metrics"
	"github.com/rojolang/rintento-go/pkg/wit"
)

// Handler serves the requests it accepts
type Handler interface {
	CanHandle(r *Request) bool
	Handle(ctx context.Context, r *Request) (intent.Utterances, error)
}

// Router is implemented by handlers bound to a single route
type Router interface {
	Route() string
}

// Recognizer starts backend recognitions. *wit.Recognizer implements it.
type Recognizer interface {
	Recognize(ctx context.Context, req wit.Request, opts ...wit.RecognizeOption) (*wit.PendingRecognition, error)
}

// Chain is an ordered handler list scanned for the first match
type Chain struct {
	handlers []Handler
}

// NewChain builds a chain from handlers and a terminal handler that knows
// their routes
func NewChain(handlers ...Handler) *Chain {
	var routes []string
	for _, h := range handlers {
		if r, ok := h.(Router); ok {
			routes = append(routes, r.Route())
		}
	}
	all := make([]Handler, 0, len(handlers)+1)
	all = append(all, handlers...)
	all = append(all, &TerminalHandler{routes: routes})
	return &Chain{handlers: all}
}

// Select returns the first handler accepting r. The terminal handler accepts
// everything, so the result is never nil.
func (c *Chain) Select(r *Request) Handler {
	for _, h := range c.handlers {
		if h.CanHandle(r) {
			return h
		}
	}
	return c.handlers[len(c.handlers)-1]
}

// TerminalHandler answers requests nobody else accepted
type TerminalHandler struct {
	routes []string
}

type methodNotAllowed struct {
	method string
}

func (e *methodNotAllowed) Error() string {
	return fmt.Sprintf("method %s not allowed", e.method)
}

func (e *methodNotAllowed) Allow() string {
	return http.MethodPost
}

func (t *TerminalHandler) CanHandle(*Request) bool {
	return true
}

func (t *TerminalHandler) Handle(_ context.Context, r *Request) (intent.Utterances, error) {
	for _, route := range t.routes {
		if r.URL.Path != route {
			continue
		}
		if r.Method != http.MethodPost {
			err := intent.WrapError(&methodNotAllowed{method: r.Method}, "unsupported method", intent.ErrCodeUnsupported)
			return nil, httpError(http.StatusMethodNotAllowed, err.AddDetail("route", route))
		}
		return nil, intent.NewBadRequestError("unexpected body framing").AddDetail("route", route)
	}
	return nil, intent.WrapError(intent.ErrUnsupported, "no handler for "+r.URL.Path, intent.ErrCodeUnsupported)
}

// await waits for p, canceling it when ctx is done first
func await(ctx context.Context, p *wit.PendingRecognition) (intent.Utterances, error) {
	stop := context.AfterFunc(ctx, p.Cancel)
	defer stop()
	<-p.Done()
	return p.Result()
}

// routeLabel collapses unknown paths for the request metric
func routeLabel(c *Chain, r *Request) string {
	for _, h := range c.handlers {
		if rt, ok := h.(Router); ok && rt.Route() == r.URL.Path {
			return strings.TrimPrefix(rt.Route(), "/")
		}
	}
	return "other"
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, intent.ErrCanceled) && !intent.IsTimeout(err):
		return metrics.OutcomeCanceled
	case StatusFor(err) < http.StatusInternalServerError:
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}
