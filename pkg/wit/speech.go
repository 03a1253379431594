package wit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/intent"
)

// DefaultChunkSize is the outbound chunk size when none is configured
const DefaultChunkSize = 20000

// AudioContentType describes the raw PCM stream accepted by the speech route
const AudioContentType = "audio/raw; encoding=signed-integer; bits=16; rate=16000; endian=little"

// SpeechSession streams audio popped from a bounded channel as a chunked upload
type SpeechSession struct {
	session
	audio *channel.Bounded[[]byte]
}

func (s *SpeechSession) chunkSize() int {
	if s.settings.ChunkSize < 1 {
		return DefaultChunkSize
	}
	return s.settings.ChunkSize
}

func (s *SpeechSession) target() *url.URL {
	return &url.URL{
		Scheme:   "https",
		Host:     s.settings.Host,
		Path:     "/speech",
		RawQuery: "v=" + url.QueryEscape(s.version()),
	}
}

func (s *SpeechSession) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", s.authorization())
	h.Set("User-Agent", UserAgent)
	h.Set("Content-Type", AudioContentType)
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Expect", "100-continue")
	h.Set("Accept", "application/json")
	return h
}

// Run drives the session to completion. Firing its context also cancels the audio channel.
func (s *SpeechSession) Run(ctx context.Context) (intent.Utterances, error) {
	tok := NewToken(ctx, s.settings.IdleTimeout)
	defer tok.Release()
	stop := context.AfterFunc(tok.Context(), s.audio.Cancel)
	defer stop()

	utterances, err := s.run(tok)
	if err != nil {
		// unblock a producer still pushing
		s.audio.Cancel()
	}
	return s.finish(utterances, err)
}

func (s *SpeechSession) run(tok *Token) (intent.Utterances, error) {
	l, err := s.connect(tok)
	if err != nil {
		return nil, err
	}
	defer l.close()

	if err := s.step(tok, StateWritingRequestHeader); err != nil {
		return nil, err
	}
	target := s.target()
	fmt.Fprintf(l.bw, "POST %s HTTP/1.1\r\nHost: %s\r\n", target.RequestURI(), s.settings.Host)
	_ = s.header().Write(l.bw)
	_, _ = l.bw.WriteString("\r\n")
	if err := l.bw.Flush(); err != nil {
		return nil, ioError(tok, "write", err)
	}
	tok.Rearm()

	req := &http.Request{Method: http.MethodPost, URL: target}
	if err := s.step(tok, StateReadingContinue); err != nil {
		return nil, err
	}
	interim, err := http.ReadResponse(l.br, req)
	if err != nil {
		return nil, ioError(tok, "read", err)
	}
	interim.Body.Close()
	if interim.StatusCode != http.StatusContinue {
		return nil, intent.NewProtocolError("backend did not accept the audio stream").
			AddDetail("status", interim.StatusCode)
	}
	tok.Rearm()

	if err := s.stream(tok, l); err != nil {
		return nil, err
	}

	utterances, err := s.readResponse(tok, l, req)
	if terr := tok.Err(); terr != nil {
		return nil, terr
	}
	s.shutdown(tok, l)
	return utterances, err
}

// stream drains the channel into fixed size chunks, then writes the terminating chunk
func (s *SpeechSession) stream(tok *Token, l *link) error {
	if err := s.step(tok, StateStreamingChunks); err != nil {
		return err
	}
	size := s.chunkSize()
	cw := httputil.NewChunkedWriter(l.bw)
	var w window

	write := func(p []byte) error {
		if _, err := cw.Write(p); err != nil {
			return ioError(tok, "write", err)
		}
		if err := l.bw.Flush(); err != nil {
			return ioError(tok, "write", err)
		}
		s.metrics.SpeechBytes.Add(float64(len(p)))
		tok.Rearm()
		return nil
	}

	for {
		data, err := s.audio.Pop(tok.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if terr := tok.Err(); terr != nil {
				return terr
			}
			return intent.WrapError(err, "audio stream aborted", intent.ErrCodeCanceled)
		}
		tok.Rearm()
		w.Append(data)
		for {
			chunk, ok := w.Next(size)
			if !ok {
				break
			}
			if err := write(chunk); err != nil {
				return err
			}
		}
	}
	if rest := w.Rest(); len(rest) > 0 {
		if err := write(rest); err != nil {
			return err
		}
	}

	if err := s.step(tok, StateWritingLastChunk); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return ioError(tok, "write", err)
	}
	// empty trailer
	_, _ = l.bw.WriteString("\r\n")
	if err := l.bw.Flush(); err != nil {
		return ioError(tok, "write", err)
	}
	tok.Rearm()
	return nil
}
