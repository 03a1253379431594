package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/wit"
)

const (
	speechReadSize = 16 << 10
	speechCapacity = wit.DefaultAudioCapacity
)

// SpeechHandler streams a chunked audio body to the backend
type SpeechHandler struct {
	route      string
	recognizer Recognizer
}

func NewSpeechHandler(route string, recognizer Recognizer) *SpeechHandler {
	return &SpeechHandler{route: route, recognizer: recognizer}
}

func (h *SpeechHandler) Route() string {
	return h.route
}

func (h *SpeechHandler) CanHandle(r *Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == h.route && r.Chunked()
}

func (h *SpeechHandler) Handle(ctx context.Context, r *Request) (intent.Utterances, error) {
	audio := channel.MustNew[[]byte](speechCapacity)

	produced := make(chan error, 1)
	go func() {
		produced <- wit.Produce(ctx, r.Body, audio, speechReadSize)
	}()

	p, err := h.recognizer.Recognize(ctx, wit.SpeechRequest{Audio: audio})
	var utterances intent.Utterances
	if err == nil {
		utterances, err = await(ctx, p)
	}

	// the producer must be gone before the connection is read again
	audio.Cancel()
	var readErr error
	select {
	case readErr = <-produced:
	default:
		r.interruptRead()
		readErr = <-produced
	}
	if readErr != nil {
		r.Close = true
		if !errors.Is(readErr, channel.ErrCanceled) && !errors.Is(readErr, context.Canceled) && intent.IsCanceled(err) {
			return nil, intent.WrapError(readErr, "read audio body", intent.ErrCodeBadRequest)
		}
	}
	return utterances, err
}
