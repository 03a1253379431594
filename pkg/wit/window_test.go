package wit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_FixedPieces(t *testing.T) {
	payload := make([]byte, 45000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	for _, piece := range []int{1, 999, 5000, 7000, 20000, 45000} {
		var w window
		var sizes []int
		var out []byte
		for off := 0; off < len(payload); off += piece {
			end := min(off+piece, len(payload))
			w.Append(payload[off:end])
			for {
				chunk, ok := w.Next(20000)
				if !ok {
					break
				}
				sizes = append(sizes, len(chunk))
				out = append(out, chunk...)
			}
		}
		if rest := w.Rest(); len(rest) > 0 {
			sizes = append(sizes, len(rest))
			out = append(out, rest...)
		}
		assert.Equal(t, []int{20000, 20000, 5000}, sizes, "piece %d", piece)
		require.True(t, bytes.Equal(payload, out), "piece %d", piece)
		assert.Zero(t, w.Len())
	}
}

func TestWindow_Empty(t *testing.T) {
	var w window
	_, ok := w.Next(1)
	assert.False(t, ok)
	assert.Empty(t, w.Rest())
	_, ok = w.Next(0)
	assert.False(t, ok)
}
