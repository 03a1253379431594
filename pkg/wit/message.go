package wit

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rojolang/rintento-go/pkg/intent"
)

// MessageSession recognizes one text message with a single buffered request
type MessageSession struct {
	session
	text string
}

func (s *MessageSession) target() *url.URL {
	return &url.URL{
		Scheme:   "https",
		Host:     s.settings.Host,
		Path:     "/message",
		RawQuery: "v=" + url.QueryEscape(s.version()) + "&q=" + url.QueryEscape(s.text),
	}
}

func (s *MessageSession) request() *http.Request {
	req := &http.Request{
		Method:        http.MethodPost,
		URL:           s.target(),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Host:          s.settings.Host,
		Header:        make(http.Header),
		Body:          http.NoBody,
		ContentLength: int64(len(s.text)),
		Close:         true,
	}
	if len(s.text) > 0 {
		req.Body = io.NopCloser(strings.NewReader(s.text))
	}
	req.Header.Set("Authorization", s.authorization())
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	return req
}

// Run drives the session to completion. It never returns before the socket is closed.
func (s *MessageSession) Run(ctx context.Context) (intent.Utterances, error) {
	tok := NewToken(ctx, s.settings.IdleTimeout)
	defer tok.Release()
	return s.finish(s.run(tok))
}

func (s *MessageSession) run(tok *Token) (intent.Utterances, error) {
	l, err := s.connect(tok)
	if err != nil {
		return nil, err
	}
	defer l.close()

	if err := s.step(tok, StateWritingRequest); err != nil {
		return nil, err
	}
	req := s.request()
	if err := req.Write(l.bw); err != nil {
		return nil, ioError(tok, "write", err)
	}
	if err := l.bw.Flush(); err != nil {
		return nil, ioError(tok, "write", err)
	}
	tok.Rearm()

	utterances, err := s.readResponse(tok, l, req)
	if terr := tok.Err(); terr != nil {
		return nil, terr
	}
	s.shutdown(tok, l)
	return utterances, err
}
