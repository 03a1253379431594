package wit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rojolang/rintento-go/pkg/channel"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestSpeechSession_ChunkSizes(t *testing.T) {
	payload := pcm(45000)
	for _, piece := range []int{3000, 20000, 45000, 6999} {
		backend := newFakeBackend(t, speechBackend(lightOn))
		r := backend.recognizer(t, Settings{ChunkSize: 20000})

		audio := channel.MustNew[[]byte](4)
		go func() {
			_ = Produce(context.Background(), bytes.NewReader(payload), audio, piece)
		}()

		s := r.NewSpeechSession(audio)
		utterances, err := s.Run(context.Background())
		require.NoError(t, err, "piece %d", piece)
		require.Len(t, utterances, 1)
		assert.Equal(t, "light_on", utterances[0].Intents[0].Name)

		rec := backend.last()
		require.NotNil(t, rec)
		assert.Equal(t, []int{20000, 20000, 5000, 0}, rec.Chunks, "piece %d", piece)
		assert.True(t, bytes.Equal(payload, rec.Body))
	}
}

func TestSpeechSession_Headers(t *testing.T) {
	backend := newFakeBackend(t, speechBackend(lightOff))
	r := backend.recognizer(t, Settings{Auth: "TOKEN"}, WithClock(fixedClock))

	audio := channel.MustNew[[]byte](2)
	require.NoError(t, audio.Push(context.Background(), pcm(10)))
	audio.Close()

	var states []SessionState
	s := r.NewSpeechSession(audio)
	s.OnStateChange(func(state SessionState) { states = append(states, state) })
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	rec := backend.last()
	assert.Equal(t, "/speech?v=20240304", rec.Target)
	assert.Equal(t, "Bearer TOKEN", rec.Header.Get("Authorization"))
	assert.Equal(t, AudioContentType, rec.Header.Get("Content-Type"))
	assert.Equal(t, "100-continue", rec.Header.Get("Expect"))
	assert.Equal(t, []string{"chunked"}, rec.TransferEncoding)
	assert.Equal(t, []int{10, 0}, rec.Chunks)

	assert.Equal(t, []SessionState{
		StateResolving,
		StateConnecting,
		StateHandshaking,
		StateWritingRequestHeader,
		StateReadingContinue,
		StateStreamingChunks,
		StateWritingLastChunk,
		StateReadingResponse,
		StateShuttingDown,
		StateDone,
	}, states)
}

func TestSpeechSession_EmptyAudio(t *testing.T) {
	backend := newFakeBackend(t, speechBackend(lightOff))
	r := backend.recognizer(t, Settings{})

	audio := channel.MustNew[[]byte](1)
	audio.Close()
	_, err := r.NewSpeechSession(audio).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, backend.last().Chunks)
}

func TestSpeechSession_NoContinue(t *testing.T) {
	backend := newFakeBackend(t, func(conn net.Conn, br *bufio.Reader, rec *recorded, commit func()) {
		commit()
		writeResponse(conn, http.StatusForbidden, `{"error":"forbidden"}`)
	})
	r := backend.recognizer(t, Settings{})

	audio := channel.MustNew[[]byte](1)
	s := r.NewSpeechSession(audio)
	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, intent.ErrCodeProtocol, intent.Code(err))
	assert.Contains(t, err.Error(), "status=403")

	// the producer side is released
	assert.True(t, audio.Canceled())
	assert.ErrorIs(t, audio.Push(context.Background(), pcm(1)), channel.ErrCanceled)
}

func TestSpeechSession_ProducerAbort(t *testing.T) {
	backend := newFakeBackend(t, func(conn net.Conn, br *bufio.Reader, rec *recorded, commit func()) {
		io.WriteString(conn, "HTTP/1.1 100 Continue\r\n\r\n")
		_ = readChunks(br, rec)
		commit()
	})
	r := backend.recognizer(t, Settings{})

	audio := channel.MustNew[[]byte](1)
	go func() {
		_ = audio.Push(context.Background(), pcm(100))
		time.Sleep(30 * time.Millisecond)
		audio.Cancel()
	}()
	_, err := r.NewSpeechSession(audio).Run(context.Background())
	assert.ErrorIs(t, err, intent.ErrCanceled)
}

// A listener that accepts TCP but never answers the TLS handshake
func silentListener(t *testing.T) (port int, received func() []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var data atomic.Value
	data.Store([]byte(nil))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		all, _ := io.ReadAll(conn)
		data.Store(all)
	}()
	return ln.Addr().(*net.TCPAddr).Port, func() []byte { return data.Load().([]byte) }
}

func TestSession_CancelDuringHandshake(t *testing.T) {
	port, received := silentListener(t)
	backend := &fakeBackend{port: port, pool: x509.NewCertPool()}
	r := backend.recognizer(t, Settings{IdleTimeout: 10 * time.Second})

	audio := channel.MustNew[[]byte](1)
	handshaking := make(chan struct{})
	pending, err := r.RecognizeSpeech(context.Background(), audio, WithStateObserver(func(state SessionState) {
		if state == StateHandshaking {
			close(handshaking)
		}
	}))
	require.NoError(t, err)

	select {
	case <-handshaking:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached handshaking")
	}
	time.Sleep(50 * time.Millisecond)
	pending.Cancel()

	utterances, err := pending.Wait(context.Background())
	assert.Empty(t, utterances)
	assert.ErrorIs(t, err, intent.ErrCanceled)
	assert.Equal(t, Canceled, pending.State())
	assert.Equal(t, StateFailed, pending.Session().State())

	// the listener sees the client hello at most, never a request line
	require.Eventually(t, func() bool { return received() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, string(received()), "POST")
	assert.True(t, audio.Canceled())
}
