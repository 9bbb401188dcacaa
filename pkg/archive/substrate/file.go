package substrate

import "os"

// fileBlob adapts *os.File to the Blob contract (io.ReaderAt plus a
// Size method derived from Stat, rather than the raw int64 Stat
// returns).
type fileBlob struct {
	f *os.File
}

func (b fileBlob) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b fileBlob) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// NewFile opens path and wraps it as a Substrate; the returned
// Substrate's Close closes the underlying file.
func NewFile(path string) (Substrate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewBlob(fileBlob{f: f}, f.Close), nil
}
