package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rojolang/rintento-go/pkg/intent"
)

// Request is one inbound request together with the connection it arrived on
type Request struct {
	*http.Request

	// ID is echoed in the X-Request-Id response header
	ID         string
	Connection uint64

	body      *continueReader
	interrupt func()
}

func newRequest(r *http.Request, id string, connection uint64, w io.Writer) *Request {
	req := &Request{Request: r, ID: id, Connection: connection}
	if r.Body != nil && r.Body != http.NoBody {
		req.body = &continueReader{body: r.Body, w: w, expect: expectsContinue(r)}
		r.Body = req.body
	}
	return req
}

func expectsContinue(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Expect"), "100-continue")
}

// Chunked reports a body sent with chunked transfer encoding
func (r *Request) Chunked() bool {
	for _, te := range r.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

// interruptRead unblocks a body read in progress on the connection
func (r *Request) interruptRead() {
	if r.interrupt != nil {
		r.interrupt()
	}
}

// unreadBody reports whether a client still waits for 100 Continue before
// sending a body nobody read
func (r *Request) unreadBody() bool {
	return r.body != nil && r.body.expect && !r.body.sent()
}

// continueReader answers Expect: 100-continue on the first body read
type continueReader struct {
	body   io.ReadCloser
	w      io.Writer
	expect bool

	mu      sync.Mutex
	written bool
	err     error
}

func (c *continueReader) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.expect && !c.written {
		c.written = true
		_, c.err = io.WriteString(c.w, "HTTP/1.1 100 Continue\r\n\r\n")
	}
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return c.body.Read(p)
}

func (c *continueReader) Close() error {
	return c.body.Close()
}

func (c *continueReader) sent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// HTTPError attaches a response status to an error
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func httpError(status int, err error) error {
	return &HTTPError{Status: status, Err: err}
}

// StatusFor maps a handler error to a response status
func StatusFor(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	switch intent.Code(err) {
	case intent.ErrCodeBadRequest:
		return http.StatusBadRequest
	case intent.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case intent.ErrCodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case intent.ErrCodeUnsupported:
		return http.StatusNotFound
	case intent.ErrCodeNotFound:
		return http.StatusUnprocessableEntity
	case intent.ErrCodeNetwork, intent.ErrCodeProtocol, intent.ErrCodeJSONParse:
		return http.StatusBadGateway
	case intent.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case intent.ErrCodeCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newResponse builds the reply for a handler outcome
func newResponse(req *Request, utterances intent.Utterances, err error) *http.Response {
	status := http.StatusOK
	var payload interface{} = utterances
	if err != nil {
		status = StatusFor(err)
		payload = errorBody{Error: errorDetail{Code: intent.Code(err), Message: err.Error()}}
	} else if utterances == nil {
		payload = intent.Utterances{}
	}
	body, merr := json.Marshal(payload)
	if merr != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"UNKNOWN_ERROR","message":"encode response"}}`)
	}
	body = append(body, '\n')

	resp := &http.Response{
		StatusCode:    status,
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	resp.Header.Set("Content-Type", "application/json")
	if req != nil {
		resp.Header.Set("X-Request-Id", req.ID)
		resp.Request = req.Request
	}
	if status == http.StatusUnauthorized {
		resp.Header.Set("WWW-Authenticate", `Bearer realm="rintento"`)
	}
	if status == http.StatusMethodNotAllowed {
		if allow := allowHeader(err); allow != "" {
			resp.Header.Set("Allow", allow)
		}
	}
	return resp
}

// allowed carries the Allow header of a 405
type allowed interface {
	Allow() string
}

func allowHeader(err error) string {
	var a allowed
	if errors.As(err, &a) {
		return a.Allow()
	}
	return http.MethodPost
}
