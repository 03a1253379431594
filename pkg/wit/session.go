package wit

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/metrics"
)

// Version is reported in the User-Agent of backend requests
const Version = "0.3.0"

// UserAgent sent to the backend
var UserAgent = "rintento-go/" + Version

const (
	versionLayout   = "20060102"
	maxResponseSize = 1 << 20
	readBufferSize  = 4096
)

// Session is one protocol run against the backend
type Session interface {
	Run(ctx context.Context) (intent.Utterances, error)
	Kind() intent.RequestKind
	State() SessionState
	OnStateChange(func(SessionState))
}

// session carries the connection setup and response handling shared by the message
// and speech variants
type session struct {
	id       string
	kind     intent.RequestKind
	settings Settings
	tls      *tls.Config
	resolver *net.Resolver
	dialer   *net.Dialer
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	state    SessionState
	observer func(SessionState)
}

// link is an established backend connection
type link struct {
	raw  net.Conn
	conn *tls.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	stop func() bool
}

func (l *link) close() {
	l.stop()
	_ = l.raw.Close()
}

func (s *session) Kind() intent.RequestKind {
	return s.kind
}

func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers an observer called synchronously on every transition
func (s *session) OnStateChange(fn func(SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	observer := s.observer
	s.mu.Unlock()

	s.log.LogSessionEvent(s.kind, s.id, string(state), nil)
	if observer != nil {
		observer(state)
	}
}

// step enters state and checks the token before the step suspends
func (s *session) step(tok *Token, state SessionState) error {
	s.setState(state)
	return tok.Err()
}

// finish records the terminal state of the run
func (s *session) finish(utterances intent.Utterances, err error) (intent.Utterances, error) {
	if err != nil {
		s.setState(StateFailed)
		s.log.WithError(err).Debugf("Session %s failed", s.id)
	} else {
		s.setState(StateDone)
	}
	return utterances, err
}

func (s *session) version() string {
	if s.settings.Version != "" {
		return s.settings.Version
	}
	return s.now().Format(versionLayout)
}

func (s *session) authorization() string {
	auth := s.settings.Auth
	if strings.HasPrefix(auth, "Bearer ") {
		return auth
	}
	return "Bearer " + auth
}

// connect runs Resolving, Connecting and Handshaking. Once it returns a link,
// firing the token closes the socket.
func (s *session) connect(tok *Token) (*link, error) {
	if err := s.step(tok, StateResolving); err != nil {
		return nil, err
	}
	addrs, err := s.resolver.LookupHost(tok.Context(), s.settings.Host)
	if terr := tok.Err(); terr != nil {
		return nil, terr
	}
	if err != nil {
		return nil, intent.NewNetworkError("resolve", err)
	}
	if len(addrs) == 0 {
		return nil, intent.NewNetworkError("resolve", errors.New("no addresses"))
	}
	tok.Rearm()

	if err := s.step(tok, StateConnecting); err != nil {
		return nil, err
	}
	port := strconv.Itoa(s.settings.Port)
	var raw net.Conn
	for _, addr := range addrs {
		raw, err = s.dialer.DialContext(tok.Context(), "tcp", net.JoinHostPort(addr, port))
		if err == nil || tok.Err() != nil {
			break
		}
		s.log.WithError(err).Debugf("Endpoint %s not viable", addr)
	}
	if terr := tok.Err(); terr != nil {
		if raw != nil {
			_ = raw.Close()
		}
		return nil, terr
	}
	if err != nil {
		return nil, intent.NewNetworkError("connect", err)
	}
	tok.Rearm()

	l := &link{raw: raw}
	l.stop = context.AfterFunc(tok.Context(), func() { _ = raw.Close() })

	if err := s.step(tok, StateHandshaking); err != nil {
		l.close()
		return nil, err
	}
	l.conn = tls.Client(raw, s.tls)
	err = l.conn.HandshakeContext(tok.Context())
	if terr := tok.Err(); terr != nil {
		l.close()
		return nil, terr
	}
	if err != nil {
		l.close()
		return nil, intent.NewNetworkError("handshake", err)
	}
	tok.Rearm()

	l.br = bufio.NewReaderSize(l.conn, readBufferSize)
	l.bw = bufio.NewWriter(l.conn)
	return l, nil
}

// ioError prefers the token outcome over the I/O failure it caused
func ioError(tok *Token, op string, err error) error {
	if terr := tok.Err(); terr != nil {
		return terr
	}
	return intent.NewNetworkError(op, err)
}

// readResponse reads the final response and feeds its body to a fresh parser
func (s *session) readResponse(tok *Token, l *link, req *http.Request) (intent.Utterances, error) {
	if err := s.step(tok, StateReadingResponse); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(l.br, req)
	if err != nil {
		return nil, ioError(tok, "read", err)
	}
	defer resp.Body.Close()
	tok.Rearm()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, intent.NewProtocolError("unexpected backend status").
			AddDetail("status", resp.StatusCode).
			AddDetail("body", strings.TrimSpace(string(snippet)))
	}

	parser := intent.NewParser()
	buf := make([]byte, readBufferSize)
	total := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			total += n
			if total > maxResponseSize {
				return nil, intent.NewProtocolError("backend response too large").AddDetail("limit", maxResponseSize)
			}
			if _, perr := parser.Feed(buf[:n]); perr != nil {
				return parser.Finish()
			}
			tok.Rearm()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, ioError(tok, "read", rerr)
		}
	}
	if err := tok.Err(); err != nil {
		return nil, err
	}
	return parser.Finish()
}

// shutdown sends close_notify and closes the socket. Errors never override the result.
func (s *session) shutdown(tok *Token, l *link) {
	s.setState(StateShuttingDown)
	err := l.conn.CloseWrite()
	l.close()
	if err != nil && !isPeerClosed(err) && tok.Err() == nil {
		s.log.WithError(err).Warnf("Session %s shutdown failed", s.id)
	}
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.Canceled)
}
