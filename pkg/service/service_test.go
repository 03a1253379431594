package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rojolang/rintento-go/pkg/client"
	"github.com/rojolang/rintento-go/pkg/config"
	"github.com/rojolang/rintento-go/pkg/gateway"
	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// closedPort returns a local port nobody listens on
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Recognize.Host = "127.0.0.1"
	cfg.Recognize.Port = closedPort(t)
	cfg.Recognize.Auth = "token"
	cfg.Admin.Addr = ""
	return cfg
}

func TestSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Recognize.Auth = "abc"
	s := Settings(cfg)
	assert.Equal(t, "api.wit.ai", s.Host)
	assert.Equal(t, 443, s.Port)
	assert.Zero(t, s.MaxSessions)

	cfg.Recognize.MaxSessions = 3
	assert.Equal(t, 3, Settings(cfg).MaxSessions)
	assert.Equal(t, 20000, s.ChunkSize)
}

func TestNew_RejectsMissingAuth(t *testing.T) {
	cfg := config.Default()
	_, err := New(cfg, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, intent.ErrCodeAuthFailed, intent.Code(err))
}

func TestService_Run(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Auth.Secret = "gateway-secret"
	cfg.Redis.Addr = mr.Addr()

	var logs syncBuffer
	log := logger.NewLogger(&logger.LogConfig{Level: logger.InfoLevel, Output: &logs})
	svc, err := New(cfg, log)
	require.NoError(t, err)
	assert.NotNil(t, svc.Recognizer())

	gatewayLn, adminLn := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, gatewayLn, adminLn) }()

	adminURL := "http://" + adminLn.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(adminURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	base := "http://" + gatewayLn.Addr().String()
	_, err = client.New(base, "").Message(ctx, "turn on the light")
	assert.Equal(t, intent.ErrCodeAuthFailed, intent.Code(err))

	token, err := gateway.NewAuthToken(cfg.Auth.Secret, "test", time.Minute)
	require.NoError(t, err)
	// the backend port is closed, so the gateway answers 502
	_, err = client.New(base, token).Message(ctx, "turn on the light")
	assert.Equal(t, intent.ErrCodeNetwork, intent.Code(err))

	resp, err := http.Get(adminURL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `rintento_requests_total{outcome="rejected",route="message"} 1`)
	assert.Contains(t, string(body), `rintento_requests_total{outcome="error",route="message"} 1`)

	resp, err = http.Get(adminURL + "/healthz")
	require.NoError(t, err)
	var st struct{ Version string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.NotEmpty(t, st.Version)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, strings.Contains(logs.String(), "Gateway stopped"))
}
