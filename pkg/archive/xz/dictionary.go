package xz

// lzmaWindow is the circular back-reference buffer LZMA matches copy
// from, sized to the dictionary size carried in the LZMA2 properties
// byte (spec §4.5: "distances ≤ dictionary size"). Output bytes are
// also queued into pending for the caller to Drain; the two roles are
// split because the window wraps at dictSize while the decoder may be
// asked to produce far more total output than that across many chunks.
type lzmaWindow struct {
	buf     []byte
	pos     int
	total   uint64
	pending []byte
}

func newLZMAWindow(dictSize uint32) *lzmaWindow {
	if dictSize == 0 {
		dictSize = 1
	}
	return &lzmaWindow{buf: make([]byte, dictSize)}
}

func (w *lzmaWindow) reset() {
	w.pos = 0
	w.total = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}

func (w *lzmaWindow) lastByte() byte {
	if w.total == 0 {
		return 0
	}
	idx := w.pos - 1
	if idx < 0 {
		idx += len(w.buf)
	}
	return w.buf[idx]
}

// getByte returns the byte dist+1 positions behind the current write
// cursor (dist==0 means the most recently written byte).
func (w *lzmaWindow) getByte(dist uint32) byte {
	idx := w.pos - 1 - int(dist)
	n := len(w.buf)
	idx %= n
	if idx < 0 {
		idx += n
	}
	return w.buf[idx]
}

func (w *lzmaWindow) putByte(b byte) {
	w.buf[w.pos] = b
	w.pos++
	if w.pos == len(w.buf) {
		w.pos = 0
	}
	w.total++
	w.pending = append(w.pending, b)
}

func (w *lzmaWindow) availableHistory(dist uint32) bool {
	if w.total > uint64(len(w.buf)) {
		return dist < uint32(len(w.buf))
	}
	return uint64(dist) < w.total
}

func (w *lzmaWindow) drain(p []byte) int {
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	if len(w.pending) == 0 {
		w.pending = w.pending[:0]
	}
	return n
}

func (w *lzmaWindow) buffered() int { return len(w.pending) }
