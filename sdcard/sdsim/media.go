package sdsim

import (
	"fmt"
	"io"
)

// Media is the backing store of a simulated card. *os.File satisfies it.
type Media interface {
	io.ReaderAt
	io.WriterAt
}

// Memory is a Media held in a byte slice.
type Memory struct {
	buf []byte
}

// NewMemory returns a zeroed Memory of size bytes.
func NewMemory(size int64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Bytes returns the underlying storage.
func (m *Memory) Bytes() []byte { return m.buf }

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("memory: negative offset %d", off)
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes past the end fail.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("memory: write %d bytes at %d: out of range", len(p), off)
	}
	return copy(m.buf[off:], p), nil
}
