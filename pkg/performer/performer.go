// Package performer hands recognized utterances to the action subsystem.
package performer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
)

// Performer executes the actions bound to a successful recognition
type Performer interface {
	Perform(ctx context.Context, utterances intent.Utterances) error
}

// Func adapts a function to Performer
type Func func(ctx context.Context, utterances intent.Utterances) error

func (f Func) Perform(ctx context.Context, utterances intent.Utterances) error {
	return f(ctx, utterances)
}

// Discard drops every recognition
var Discard Performer = Func(func(context.Context, intent.Utterances) error { return nil })

// Event is the published form of a recognition
type Event struct {
	ID         string            `json:"id"`
	RequestID  string            `json:"request_id,omitempty"`
	Time       time.Time         `json:"time"`
	Text       string            `json:"text,omitempty"`
	Intent     string            `json:"intent,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Utterances intent.Utterances `json:"utterances"`
}

// NewEvent summarizes utterances around their final utterance
func NewEvent(ctx context.Context, utterances intent.Utterances) Event {
	ev := Event{
		ID:         uuid.NewString(),
		RequestID:  RequestID(ctx),
		Time:       time.Now().UTC(),
		Utterances: utterances,
	}
	if final, ok := utterances.Final(); ok {
		ev.Text = final.Text
		if top, ok := final.TopIntent(); ok {
			ev.Intent = top.Name
			ev.Confidence = top.Confidence
		}
	}
	return ev
}

type requestIDKey struct{}

// WithRequestID tags ctx with the inbound request ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Multi performs on every performer and joins their errors
type Multi []Performer

func (m Multi) Perform(ctx context.Context, utterances intent.Utterances) error {
	var errs []error
	for _, p := range m {
		if err := p.Perform(ctx, utterances); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPerformer writes each recognition to the log
type LogPerformer struct {
	log *logger.Logger
}

func NewLogPerformer(log *logger.Logger) *LogPerformer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LogPerformer{log: log.WithComponent("performer")}
}

func (p *LogPerformer) Perform(ctx context.Context, utterances intent.Utterances) error {
	ev := NewEvent(ctx, utterances)
	if ev.Intent == "" {
		p.log.WithField("request_id", ev.RequestID).Infof("Recognized %q with no intent", ev.Text)
		return nil
	}
	p.log.WithFields(map[string]interface{}{
		"request_id": ev.RequestID,
		"intent":     ev.Intent,
		"confidence": ev.Confidence,
	}).Infof("Perform %s for %q", ev.Intent, ev.Text)
	return nil
}
