package orchestrator

import (
	"bytes"
	"io"
	"log/slog"
	"os"
)

// headerSize is large enough for every magic-byte check in internal/signature,
// including the ftyp box at offset 4 and the RIFF/WAVE check through offset 12.
const headerSize = 64

// readHeader reads the leading bytes of path used for format classification.
func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// openForUpload opens path for a single streamed read and reports its size.
func openForUpload(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// cleanupTemp removes a downloaded temporary file, logging failures rather
// than surfacing them — a leftover temp file is not fatal to the caller.
func cleanupTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove temporary file", "path", path, "error", err)
	}
}

// newByteReader wraps in-memory artwork bytes for ObjectStore.Put, which
// takes an io.Reader.
func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
