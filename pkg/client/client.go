// Package client talks to a running gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/wit"
)

// Client posts messages and audio streams to the gateway routes
type Client struct {
	BaseURL      string
	Token        string
	MessageRoute string
	SpeechRoute  string
	HTTP         *http.Client
	// Retries is how many times a message is resent after a network or
	// timeout failure. Speech streams are never resent.
	Retries      int
	Backoff      time.Duration
}

func New(baseURL, token string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ExpectContinueTimeout = 5 * time.Second
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		MessageRoute: "/message",
		SpeechRoute:  "/speech",
		HTTP:         &http.Client{Transport: transport},
		Retries:      2,
		Backoff:      100 * time.Millisecond,
	}
}

// Message recognizes text
func (c *Client) Message(ctx context.Context, text string) (intent.Utterances, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	backoff := c.Backoff
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.MessageRoute, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		utterances, err := c.do(req)
		if err == nil || attempt >= c.Retries || !intent.IsRetryableError(err) {
			return utterances, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Speech streams raw PCM from audio with chunked encoding. The request
// completes once audio returns EOF.
func (c *Client) Speech(ctx context.Context, audio io.Reader) (intent.Utterances, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.SpeechRoute, io.NopCloser(audio))
	if err != nil {
		return nil, err
	}
	req.ContentLength = -1
	req.Header.Set("Content-Type", wit.AudioContentType)
	req.Header.Set("Expect", "100-continue")
	return c.do(req)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(req *http.Request) (intent.Utterances, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, intent.NewNetworkError("request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, intent.NewNetworkError("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Code != "" {
			return nil, intent.NewError(eb.Error.Message, eb.Error.Code).
				AddDetail("status", resp.StatusCode).
				AddDetail("request_id", resp.Header.Get("X-Request-Id"))
		}
		return nil, intent.NewProtocolError(fmt.Sprintf("unexpected status %s", resp.Status))
	}
	var utterances intent.Utterances
	if err := json.Unmarshal(data, &utterances); err != nil {
		return nil, intent.NewParseError(err)
	}
	return utterances, nil
}
