package wit

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/stretchr/testify/require"
)

const (
	lightOff = `{"text":"turn off the light","intents":[{"name":"light_off","confidence":0.9265}]}`
	lightOn  = `{"text":"turn on the light","intents":[{"name":"light_on","confidence":0.9166}]}`
)

// fakeBackend is a raw TLS server so tests observe the exact request framing
type fakeBackend struct {
	t    *testing.T
	ln   net.Listener
	pool *x509.CertPool
	port int

	mu       sync.Mutex
	requests []*recorded
}

type recorded struct {
	Method string
	Target string
	Header http.Header
	// TransferEncoding and ContentLength are lifted out of Header by http.ReadRequest
	TransferEncoding []string
	ContentLength    int64
	Body             []byte
	Chunks           []int
}

// backendHandler reads the rest of the request into rec and calls commit before responding
type backendHandler func(conn net.Conn, br *bufio.Reader, rec *recorded, commit func())

func newFakeBackend(t *testing.T, handle backendHandler) *fakeBackend {
	t.Helper()

	// borrow the self signed certificate of httptest, valid for 127.0.0.1
	srv := httptest.NewUnstartedServer(http.NotFoundHandler())
	srv.StartTLS()
	cert := srv.TLS.Certificates[0]
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	srv.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	b := &fakeBackend{t: t, ln: ln, pool: pool, port: ln.Addr().(*net.TCPAddr).Port}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				req, err := http.ReadRequest(br)
				if err != nil {
					return
				}
				rec := &recorded{
					Method:           req.Method,
					Target:           req.RequestURI,
					Header:           req.Header,
					TransferEncoding: req.TransferEncoding,
					ContentLength:    req.ContentLength,
				}
				if req.Host != "" {
					rec.Header.Set("Host", req.Host)
				}
				handle(conn, br, rec, func() {
					b.mu.Lock()
					b.requests = append(b.requests, rec)
					b.mu.Unlock()
				})
			}()
		}
	}()
	return b
}

func (b *fakeBackend) recognizer(t *testing.T, settings Settings, opts ...Option) *Recognizer {
	t.Helper()
	settings.Host = "127.0.0.1"
	settings.Port = b.port
	if settings.Auth == "" {
		settings.Auth = "test-token"
	}
	if settings.IdleTimeout == 0 {
		settings.IdleTimeout = 5 * time.Second
	}
	opts = append([]Option{WithRootCAs(b.pool), WithLogger(logger.Nop())}, opts...)
	r, err := NewRecognizer(settings, opts...)
	require.NoError(t, err)
	return r
}

func (b *fakeBackend) last() *recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

func writeResponse(w io.Writer, status int, body string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}

// readMessageBody reads a Content-Length body
func readMessageBody(br *bufio.Reader, rec *recorded) error {
	if rec.ContentLength < 0 {
		return fmt.Errorf("no content length")
	}
	rec.Body = make([]byte, rec.ContentLength)
	_, err := io.ReadFull(br, rec.Body)
	return err
}

// readChunks parses chunk framing by hand, recording every chunk size including the last one
func readChunks(br *bufio.Reader, rec *recorded) error {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return err
		}
		rec.Chunks = append(rec.Chunks, int(size))
		if size == 0 {
			trailer, err := br.ReadString('\n')
			if err != nil {
				return err
			}
			if trailer != "\r\n" {
				return fmt.Errorf("unexpected trailer %q", trailer)
			}
			return nil
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return err
		}
		rec.Body = append(rec.Body, data...)
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(br, crlf); err != nil {
			return err
		}
		if string(crlf) != "\r\n" {
			return fmt.Errorf("chunk not terminated by CRLF: %q", crlf)
		}
	}
}

func messageBackend(status int, body string) backendHandler {
	return func(conn net.Conn, br *bufio.Reader, rec *recorded, commit func()) {
		if err := readMessageBody(br, rec); err != nil {
			return
		}
		commit()
		writeResponse(conn, status, body)
	}
}

func speechBackend(body string) backendHandler {
	return func(conn net.Conn, br *bufio.Reader, rec *recorded, commit func()) {
		io.WriteString(conn, "HTTP/1.1 100 Continue\r\n\r\n")
		if err := readChunks(br, rec); err != nil {
			return
		}
		commit()
		writeResponse(conn, http.StatusOK, body)
	}
}
