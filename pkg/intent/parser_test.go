package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lightOff = `{"text":"turn off the light","intents":[{"name":"light_off","confidence":0.9265}]}`
	lightOn  = `{"text":"turn on the light","intents":[{"name":"light_on","confidence":0.9166}]}`
)

func TestParser_Single(t *testing.T) {
	input := `
        {
          "text": "turn off the light",
          "intents": [
            {
              "id": "554903196208362",
              "name": "light_off",
              "confidence": 0.9265
            }
          ],
          "entities": {},
          "traits": {}
        }
    `
	utterances, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "turn off the light", utterances[0].Text)
	require.Len(t, utterances[0].Intents, 1)
	assert.Equal(t, "light_off", utterances[0].Intents[0].Name)
	assert.InDelta(t, 0.9265, utterances[0].Intents[0].Confidence, 1e-6)
	assert.True(t, utterances[0].Final)
}

func TestParser_ConcatenatedObjects(t *testing.T) {
	utterances, err := Parse([]byte(lightOff + lightOn))
	require.NoError(t, err)
	require.Len(t, utterances, 2)

	assert.Equal(t, "turn off the light", utterances[0].Text)
	assert.Equal(t, "light_off", utterances[0].Intents[0].Name)
	assert.InDelta(t, 0.9265, utterances[0].Intents[0].Confidence, 1e-6)
	assert.False(t, utterances[0].Final)

	assert.Equal(t, "turn on the light", utterances[1].Text)
	assert.Equal(t, "light_on", utterances[1].Intents[0].Name)
	assert.InDelta(t, 0.9166, utterances[1].Intents[0].Confidence, 1e-6)
	assert.True(t, utterances[1].Final)
}

func TestParser_PartialTranscriptDropped(t *testing.T) {
	input := `
        {
          "text": "Turn"
        }
        {
          "entities": {},
          "intents": [
            {"confidence": 0.9166, "id": "695468701564151", "name": "light_on"}
          ],
          "speech": {"confidence": 0.7675, "tokens": [{"end": 720, "start": 0, "token": "Turn"}]},
          "text": "Turn on the light",
          "traits": {}
        }
    `
	utterances, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "Turn on the light", utterances[0].Text)
	top, ok := utterances[0].TopIntent()
	require.True(t, ok)
	assert.True(t, top.IsConfident(0.9))
}

func TestParser_Empty(t *testing.T) {
	utterances, err := Parse(nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ErrCodeNotFound, Code(err))
	assert.Empty(t, utterances)

	utterances, err = Parse([]byte("  \n\t "))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, utterances)
}

func TestParser_Truncated(t *testing.T) {
	input := `
        {
            "text": "Turn"
        }
        {
            "entities:
    `
	utterances, err := Parse([]byte(input))
	require.Error(t, err)
	assert.Equal(t, ErrCodeJSONParse, Code(err))
	assert.Empty(t, utterances)
}

func TestParser_MalformedKeepsEarlierUtterances(t *testing.T) {
	utterances, err := Parse([]byte(lightOff + `{"text" 1}` + lightOn))
	require.Error(t, err)
	assert.Equal(t, ErrCodeJSONParse, Code(err))
	require.Len(t, utterances, 1)
	assert.Equal(t, "turn off the light", utterances[0].Text)
}

func TestParser_ArbitrarySplits(t *testing.T) {
	input := []byte(lightOff + "\n" + lightOn)
	for split := 1; split < len(input); split++ {
		p := NewParser()
		first, err := p.Feed(input[:split])
		require.NoError(t, err, "split %d", split)
		second, err := p.Feed(input[split:])
		require.NoError(t, err, "split %d", split)
		assert.Len(t, append(first, second...), 2, "split %d", split)

		all, err := p.Finish()
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "turn on the light", all[1].Text)
		assert.True(t, all[1].Final)
	}
}

func TestParser_StickyError(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte(`{]`))
	require.Error(t, err)

	_, err = p.Feed([]byte(lightOn))
	assert.Equal(t, ErrCodeJSONParse, Code(err))
	_, err = p.Finish()
	assert.Equal(t, ErrCodeJSONParse, Code(err))

	p.Reset()
	utterances, err := p.Parse([]byte(lightOn))
	require.NoError(t, err)
	assert.Len(t, utterances, 1)
}

func TestParser_ExplicitFinalFlag(t *testing.T) {
	input := `{"text":"turn","intents":[{"name":"light_on","confidence":0.5}],"is_final":false}` +
		`{"text":"turn on","intents":[{"name":"light_on","confidence":0.8}],"is_final":true}` +
		`{"text":"turn on the","intents":[{"name":"light_on","confidence":0.7}],"is_final":false}`
	utterances, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, utterances, 3)
	assert.False(t, utterances[0].Final)
	assert.True(t, utterances[1].Final)
	assert.False(t, utterances[2].Final)

	final, ok := utterances.Final()
	require.True(t, ok)
	assert.Equal(t, "turn on", final.Text)
}

func TestParser_InvalidIntentsDropped(t *testing.T) {
	input := `{"text":"hello","intents":[]}` +
		`{"text":"hello","intents":[{"name":"greet"}]}` +
		`{"text":null,"intents":[{"name":"greet","confidence":0.4}]}` +
		`["not","an","object"]` +
		`{"text":"hi","intents":[{"name":7,"confidence":0.1},{"name":"greet","confidence":0.6}]}`
	utterances, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "hi", utterances[0].Text)
	assert.Equal(t, Intents{{Name: "greet", Confidence: 0.6}}, utterances[0].Intents)
}

func TestParser_ConfidenceMustBeFractionInRange(t *testing.T) {
	input := `{"text":"a","intents":[{"name":"whole","confidence":1},{"name":"keep","confidence":0.25}]}` +
		`{"text":"b","intents":[{"name":"above","confidence":1.5},{"name":"below","confidence":-0.1}]}` +
		`{"text":"c","intents":[{"name":"exp","confidence":5e-1},{"name":"text","confidence":"0.5"}]}`
	utterances, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, utterances, 2)
	assert.Equal(t, Intents{{Name: "keep", Confidence: 0.25}}, utterances[0].Intents)
	assert.Equal(t, Intents{{Name: "exp", Confidence: 0.5}}, utterances[1].Intents)
}

func TestParser_LargeValueInSmallReads(t *testing.T) {
	padding := strings.Repeat(`{"token":"light \"on\" [x]","start":0,"end":720},`, 20000)
	input := []byte(`{"speech":{"tokens":[` + padding + `{}]},` + lightOn[1:] + " " + lightOff)

	p := NewParser()
	var got Utterances
	for len(input) > 0 {
		n := min(4096, len(input))
		out, err := p.Feed(input[:n])
		require.NoError(t, err)
		got = append(got, out...)
		input = input[n:]
	}
	require.Len(t, got, 2)
	assert.Equal(t, "turn on the light", got[0].Text)
	assert.Equal(t, "turn off the light", got[1].Text)

	all, err := p.Finish()
	require.NoError(t, err)
	assert.True(t, all[1].Final)
}

func TestParser_TopLevelScalarsSkipped(t *testing.T) {
	utterances, err := Parse([]byte(`"partial" 42 true ` + lightOn))
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "turn on the light", utterances[0].Text)
}
