package intent

import (
	"fmt"
	"strings"
)

// Intent is a named classification with a confidence score in [0,1]
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Intents is an ordered list of intents, most confident first as sent by the backend
type Intents []Intent

// Equal compares two intents by value
func (i Intent) Equal(other Intent) bool {
	return i.Name == other.Name && i.Confidence == other.Confidence
}

// IsConfident reports whether the intent reaches the given confidence threshold
func (i Intent) IsConfident(threshold float64) bool {
	return i.Confidence >= threshold
}

func (i Intent) String() string {
	return fmt.Sprintf("name<%s>, confidence<%.3f>", i.Name, i.Confidence)
}

// Utterance is one recognized unit of speech or text
type Utterance struct {
	Text    string  `json:"text"`
	Intents Intents `json:"intents"`
	Final   bool    `json:"final"`
}

// Utterances is the bunch of utterances produced for one request
type Utterances []Utterance

// TopIntent returns the most confident intent of the utterance
func (u Utterance) TopIntent() (Intent, bool) {
	if len(u.Intents) == 0 {
		return Intent{}, false
	}
	top := u.Intents[0]
	for _, i := range u.Intents[1:] {
		if i.Confidence > top.Confidence {
			top = i
		}
	}
	return top, true
}

func (u Utterance) String() string {
	parts := make([]string, 0, len(u.Intents))
	for _, i := range u.Intents {
		parts = append(parts, i.String())
	}
	return fmt.Sprintf("text<%s>, intents<(%s)>, final<%t>", u.Text, strings.Join(parts, "), ("), u.Final)
}

// Final returns the last utterance marked as final
func (us Utterances) Final() (Utterance, bool) {
	for i := len(us) - 1; i >= 0; i-- {
		if us[i].Final {
			return us[i], true
		}
	}
	return Utterance{}, false
}

func (us Utterances) String() string {
	parts := make([]string, 0, len(us))
	for _, u := range us {
		parts = append(parts, u.String())
	}
	return "(" + strings.Join(parts, "), (") + ")"
}

// RequestKind selects which backend session protocol runs
type RequestKind string

const (
	MessageKind RequestKind = "message"
	SpeechKind  RequestKind = "speech"
)
