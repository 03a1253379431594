package wit

// window is an owned byte buffer viewed through a start offset and a length.
// Audio is appended as it is popped from the channel and consumed in
// fixed size pieces.
type window struct {
	buf   []byte
	start int
}

func (w *window) Len() int {
	return len(w.buf) - w.start
}

func (w *window) Append(p []byte) {
	if w.start > 0 && w.start >= len(w.buf)/2 {
		n := copy(w.buf, w.buf[w.start:])
		w.buf = w.buf[:n]
		w.start = 0
	}
	w.buf = append(w.buf, p...)
}

// Next returns the next n bytes when that many are buffered.
// The slice stays valid until the following Append.
func (w *window) Next(n int) ([]byte, bool) {
	if n <= 0 || w.Len() < n {
		return nil, false
	}
	p := w.buf[w.start : w.start+n]
	w.start += n
	return p, true
}

// Rest returns everything left and empties the window
func (w *window) Rest() []byte {
	p := w.buf[w.start:]
	w.start = len(w.buf)
	return p
}
