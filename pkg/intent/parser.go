package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const whitespace = " \t\r\n"

// Parser turns backend response bytes into utterances.
//
// The backend may send several JSON objects back to back (a partial
// transcript followed by the final one), with or without separators, and the
// bytes may arrive split at arbitrary positions. Feed consumes every complete
// value buffered so far and keeps the incomplete tail for the next call.
// Finish closes the request. A Parser is reused across requests with Reset.
type Parser struct {
	buf      []byte
	// structural scan of the object or array at the head of buf, kept across
	// Feed calls so every byte is scanned once
	scanned  int
	depth    int
	inString bool
	escaped  bool

	all      Utterances
	seen     bool
	explicit bool
	err      error
}

func NewParser() *Parser {
	return &Parser{}
}

// Reset prepares the parser for the next request
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.resetScan()
	p.all = nil
	p.seen = false
	p.explicit = false
	p.err = nil
}

// Feed appends data and returns the utterances extracted by this call.
// A malformed value stops parsing: the error is returned along with the
// utterances extracted before it, and every later call returns it again.
func (p *Parser) Feed(data []byte) (Utterances, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.buf = append(p.buf, data...)

	var out Utterances
	for {
		if p.scanned == 0 {
			rest := bytes.TrimLeft(p.buf, whitespace)
			if len(rest) == 0 {
				p.buf = p.buf[:0]
				return out, nil
			}
			p.buf = append(p.buf[:0], rest...)
			p.seen = true
		}

		n, complete := p.scanValue()
		if !complete {
			return out, nil
		}
		var raw json.RawMessage
		if n < 0 {
			if !p.decodeScalar(&raw) {
				return out, p.err
			}
			if raw == nil {
				return out, nil
			}
		} else {
			if !json.Valid(p.buf[:n]) {
				return out, p.fail(json.Unmarshal(p.buf[:n], &raw))
			}
			raw = append(json.RawMessage(nil), p.buf[:n]...)
			p.buf = append(p.buf[:0], p.buf[n:]...)
		}

		if u, explicit, ok := toUtterance(raw); ok {
			p.explicit = p.explicit || explicit
			p.all = append(p.all, u)
			out = append(out, u)
		}
	}
}

// scanValue advances over the object or array at the head of buf. It
// returns the value length once the closing bracket is buffered, or -1 for a
// top-level scalar.
func (p *Parser) scanValue() (int, bool) {
	if p.scanned == 0 && p.buf[0] != '{' && p.buf[0] != '[' {
		return -1, true
	}
	for i := p.scanned; i < len(p.buf); i++ {
		c := p.buf[i]
		switch {
		case p.inString:
			switch {
			case p.escaped:
				p.escaped = false
			case c == '\\':
				p.escaped = true
			case c == '"':
				p.inString = false
			}
		case c == '"':
			p.inString = true
		case c == '{' || c == '[':
			p.depth++
		case c == '}' || c == ']':
			p.depth--
			if p.depth == 0 {
				p.resetScan()
				return i + 1, true
			}
		}
	}
	p.scanned = len(p.buf)
	return 0, false
}

func (p *Parser) resetScan() {
	p.scanned = 0
	p.depth = 0
	p.inString = false
	p.escaped = false
}

// decodeScalar consumes a top-level string, number or literal. raw stays
// nil when the value is still incomplete.
func (p *Parser) decodeScalar(raw *json.RawMessage) bool {
	dec := json.NewDecoder(bytes.NewReader(p.buf))
	if err := dec.Decode(raw); err != nil {
		*raw = nil
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return true
		}
		p.fail(err)
		return false
	}
	p.buf = append(p.buf[:0], p.buf[dec.InputOffset():]...)
	return true
}

func (p *Parser) fail(err error) error {
	if err == nil {
		err = errors.New("invalid JSON value")
	}
	p.err = NewParseError(err)
	p.buf = p.buf[:0]
	p.resetScan()
	return p.err
}

// Finish ends the current request and returns all utterances extracted for it.
//
// When no backend object carried an explicit is_final flag, the last
// utterance of the response is the final one.
func (p *Parser) Finish() (Utterances, error) {
	if p.err != nil {
		return p.all, p.err
	}
	if len(bytes.TrimLeft(p.buf, whitespace)) > 0 {
		return p.all, p.fail(io.ErrUnexpectedEOF)
	}
	if !p.seen {
		return nil, ErrNotFound
	}
	if !p.explicit && len(p.all) > 0 {
		p.all[len(p.all)-1].Final = true
	}
	return p.all, nil
}

// Parse resets the parser and parses one complete response
func (p *Parser) Parse(data []byte) (Utterances, error) {
	p.Reset()
	if _, err := p.Feed(data); err != nil {
		return p.all, err
	}
	return p.Finish()
}

// Parse is a shortcut using a throwaway parser
func Parse(data []byte) (Utterances, error) {
	return NewParser().Parse(data)
}

func toUtterance(raw json.RawMessage) (Utterance, bool, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Utterance{}, false, false
	}

	intentsRaw, ok := fields["intents"]
	if !ok {
		return Utterance{}, false, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(intentsRaw, &items); err != nil {
		return Utterance{}, false, false
	}
	intents := make(Intents, 0, len(items))
	for _, item := range items {
		if i, ok := toIntent(item); ok {
			intents = append(intents, i)
		}
	}
	if len(intents) == 0 {
		return Utterance{}, false, false
	}

	var text *string
	if err := json.Unmarshal(fields["text"], &text); err != nil || text == nil {
		return Utterance{}, false, false
	}

	u := Utterance{Text: *text, Intents: intents}
	explicit := false
	if finalRaw, ok := fields["is_final"]; ok {
		var final bool
		if err := json.Unmarshal(finalRaw, &final); err == nil {
			u.Final = final
			explicit = true
		}
	}
	return u, explicit, true
}

// toIntent keeps intents whose confidence is a fractional number in [0,1]
func toIntent(raw json.RawMessage) (Intent, bool) {
	var fields struct {
		Name       *string      `json:"name"`
		Confidence *json.Number `json:"confidence"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Intent{}, false
	}
	if fields.Name == nil || fields.Confidence == nil {
		return Intent{}, false
	}
	if !strings.ContainsAny(fields.Confidence.String(), ".eE") {
		return Intent{}, false
	}
	confidence, err := fields.Confidence.Float64()
	if err != nil || confidence < 0 || confidence > 1 {
		return Intent{}, false
	}
	return Intent{Name: *fields.Name, Confidence: confidence}, true
}
