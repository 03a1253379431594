package wit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"
	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/metrics"
)

const (
	// DefaultAudioCapacity is the channel depth used for file uploads
	DefaultAudioCapacity = 8
	fileReadSize         = 16 * 1024
)

// Settings describes the backend
type Settings struct {
	Host        string
	Port        int
	Auth        string
	Version     string
	IdleTimeout time.Duration
	ChunkSize   int
	// MaxSessions bounds concurrently running sessions, 0 means unbounded
	MaxSessions int
}

// Request selects the session protocol
type Request interface {
	Kind() intent.RequestKind
}

type MessageRequest struct {
	Text string
}

func (MessageRequest) Kind() intent.RequestKind { return intent.MessageKind }

type SpeechRequest struct {
	Audio *channel.Bounded[[]byte]
}

func (SpeechRequest) Kind() intent.RequestKind { return intent.SpeechKind }

// Recognizer creates backend sessions sharing one TLS configuration
type Recognizer struct {
	settings Settings
	tls      *tls.Config
	resolver *net.Resolver
	dialer   *net.Dialer
	sessions *semaphore.Weighted
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customizes a Recognizer
type Option func(*Recognizer)

// WithRootCAs replaces the system trust store. Verification stays mandatory.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(r *Recognizer) {
		r.tls.RootCAs = pool
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Recognizer) {
		r.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recognizer) {
		r.metrics = m
	}
}

func WithResolver(resolver *net.Resolver) Option {
	return func(r *Recognizer) {
		r.resolver = resolver
	}
}

// WithClock fixes the clock used for the version date
func WithClock(now func() time.Time) Option {
	return func(r *Recognizer) {
		r.now = now
	}
}

// NewRecognizer validates settings and builds the shared TLS client configuration
func NewRecognizer(settings Settings, opts ...Option) (*Recognizer, error) {
	if settings.Host == "" {
		return nil, intent.NewBadRequestError("backend host not set")
	}
	if settings.Port <= 0 || settings.Port > 65535 {
		return nil, intent.NewBadRequestError("invalid backend port").AddDetail("port", settings.Port)
	}
	if settings.Auth == "" {
		return nil, intent.NewAuthError("backend auth token not set")
	}

	r := &Recognizer{
		settings: settings,
		tls: &tls.Config{
			ServerName: settings.Host,
			MinVersion: tls.VersionTLS12,
		},
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{KeepAlive: 30 * time.Second},
		log:      logger.GetGlobalLogger().WithComponent("wit"),
		metrics:  metrics.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tls.RootCAs == nil {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("load system trust store: %w", err)
		}
		r.tls.RootCAs = pool
	}
	if settings.MaxSessions > 0 {
		r.sessions = semaphore.NewWeighted(int64(settings.MaxSessions))
	}
	return r, nil
}

func (r *Recognizer) Settings() Settings {
	return r.settings
}

func (r *Recognizer) newSession(kind intent.RequestKind) session {
	return session{
		id:       uuid.NewString(),
		kind:     kind,
		settings: r.settings,
		tls:      r.tls,
		resolver: r.resolver,
		dialer:   r.dialer,
		log:      r.log,
		metrics:  r.metrics,
		now:      r.now,
		state:    StateInit,
	}
}

// NewMessageSession creates a session without starting it
func (r *Recognizer) NewMessageSession(text string) *MessageSession {
	return &MessageSession{session: r.newSession(intent.MessageKind), text: text}
}

// NewSpeechSession creates a session consuming audio without starting it
func (r *Recognizer) NewSpeechSession(audio *channel.Bounded[[]byte]) *SpeechSession {
	return &SpeechSession{session: r.newSession(intent.SpeechKind), audio: audio}
}

type recognizeOptions struct {
	callback Callback
	executor Executor
	observer func(SessionState)
}

// RecognizeOption customizes one recognition
type RecognizeOption func(*recognizeOptions)

// WithCallback delivers the result to callback on executor
func WithCallback(callback Callback, executor Executor) RecognizeOption {
	return func(o *recognizeOptions) {
		o.callback = callback
		o.executor = executor
	}
}

// WithStateObserver watches session transitions
func WithStateObserver(fn func(SessionState)) RecognizeOption {
	return func(o *recognizeOptions) {
		o.observer = fn
	}
}

// Recognize starts a session for req
func (r *Recognizer) Recognize(ctx context.Context, req Request, opts ...RecognizeOption) (*PendingRecognition, error) {
	switch req := req.(type) {
	case MessageRequest:
		return r.RecognizeMessage(ctx, req.Text, opts...)
	case SpeechRequest:
		return r.RecognizeSpeech(ctx, req.Audio, opts...)
	}
	return nil, intent.ErrUnsupported
}

// RecognizeMessage starts a message session
func (r *Recognizer) RecognizeMessage(ctx context.Context, text string, opts ...RecognizeOption) (*PendingRecognition, error) {
	if strings.TrimSpace(text) == "" {
		return nil, intent.NewBadRequestError("empty message")
	}
	return r.start(ctx, r.NewMessageSession(text), opts), nil
}

// RecognizeSpeech starts a speech session draining audio
func (r *Recognizer) RecognizeSpeech(ctx context.Context, audio *channel.Bounded[[]byte], opts ...RecognizeOption) (*PendingRecognition, error) {
	if audio == nil {
		return nil, intent.NewBadRequestError("no audio channel")
	}
	return r.start(ctx, r.NewSpeechSession(audio), opts), nil
}

// RecognizeFile streams a raw PCM file through a speech session
func (r *Recognizer) RecognizeFile(ctx context.Context, path string, opts ...RecognizeOption) (*PendingRecognition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, intent.WrapError(err, "open audio file", intent.ErrCodeBadRequest)
	}
	audio := channel.MustNew[[]byte](DefaultAudioCapacity)
	go func() {
		defer f.Close()
		if err := Produce(ctx, f, audio, fileReadSize); err != nil && !errors.Is(err, channel.ErrCanceled) {
			r.log.WithError(err).Warnf("Reading %s failed", path)
		}
	}()
	return r.RecognizeSpeech(ctx, audio, opts...)
}

// Produce copies src into audio in reads of at most size bytes. It closes the
// channel on EOF and cancels it on any failure.
func Produce(ctx context.Context, src io.Reader, audio *channel.Bounded[[]byte], size int) error {
	buf := make([]byte, size)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if perr := audio.Push(ctx, data); perr != nil {
				audio.Cancel()
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			audio.Close()
			return nil
		}
		if err != nil {
			audio.Cancel()
			return err
		}
	}
}

func (r *Recognizer) start(ctx context.Context, s Session, opts []RecognizeOption) *PendingRecognition {
	var o recognizeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer != nil {
		s.OnStateChange(o.observer)
	}

	run := func(ctx context.Context, id string) (intent.Utterances, error) {
		if r.sessions != nil {
			if err := r.sessions.Acquire(ctx, 1); err != nil {
				return nil, contextError(ctx)
			}
			defer r.sessions.Release(1)
		}
		r.metrics.ActiveSessions.Inc()
		defer r.metrics.ActiveSessions.Dec()

		started := time.Now()
		utterances, err := s.Run(ctx)
		r.metrics.ObserveSession(string(s.Kind()), started)
		r.log.LogRecognition(id, utterances, time.Since(started), err)
		return utterances, err
	}
	return startPending(ctx, s, run, o.executor, o.callback)
}

func contextError(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), intent.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return intent.ErrTimeout
	}
	return intent.ErrCanceled
}
