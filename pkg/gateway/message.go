package gateway

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rojolang/rintento-go/pkg/intent"
	"github.com/rojolang/rintento-go/pkg/wit"
)

// MaxMessageBody bounds the text accepted on the message route
const MaxMessageBody = 64 << 10

// MessageHandler relays text messages to the backend
type MessageHandler struct {
	route      string
	recognizer Recognizer
}

func NewMessageHandler(route string, recognizer Recognizer) *MessageHandler {
	return &MessageHandler{route: route, recognizer: recognizer}
}

func (h *MessageHandler) Route() string {
	return h.route
}

func (h *MessageHandler) CanHandle(r *Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == h.route && !r.Chunked()
}

func (h *MessageHandler) Handle(ctx context.Context, r *Request) (intent.Utterances, error) {
	text, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	p, err := h.recognizer.Recognize(ctx, wit.MessageRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return await(ctx, p)
}

type messageBody struct {
	Text string `json:"text"`
}

// readMessage takes the text from the body, either plain or {"text": ...},
// and falls back to the q query parameter
func readMessage(r *Request) (string, error) {
	if r.ContentLength > MaxMessageBody {
		return "", intent.NewTooLargeError(MaxMessageBody)
	}
	var data []byte
	if r.Body != nil {
		var err error
		data, err = io.ReadAll(io.LimitReader(r.Body, MaxMessageBody+1))
		if err != nil {
			return "", intent.WrapError(err, "read message body", intent.ErrCodeBadRequest)
		}
		if len(data) > MaxMessageBody {
			return "", intent.NewTooLargeError(MaxMessageBody)
		}
	}

	text := string(data)
	if isJSON(r.Header.Get("Content-Type")) {
		var body messageBody
		if err := json.Unmarshal(data, &body); err != nil {
			return "", intent.WrapError(err, "malformed message body", intent.ErrCodeBadRequest)
		}
		text = body.Text
	}
	if strings.TrimSpace(text) == "" {
		text = r.URL.Query().Get("q")
	}
	if strings.TrimSpace(text) == "" {
		return "", intent.NewBadRequestError("empty message")
	}
	return text, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
