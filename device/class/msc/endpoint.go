package msc

import (
	"context"
	"io"
)

// InEndpoint is a bulk IN (device to host) endpoint with a single bank.
//
// Write copies as much of p as fits in the current bank and returns the
// count. ClearIN hands the bank to the host; the next bank may be used once
// WaitUntilReady returns.
type InEndpoint interface {
	WaitUntilReady(ctx context.Context) error
	Writable() bool
	Write(p []byte) int
	ClearIN() error
}

// OutEndpoint is a bulk OUT (host to device) endpoint with a single bank.
//
// Read copies unread bank bytes into p and returns the count. ClearOUT
// releases the bank; WaitUntilReady blocks until the next one arrives.
type OutEndpoint interface {
	WaitUntilReady(ctx context.Context) error
	Readable() bool
	Read(p []byte) int
	ClearOUT()
}

// StreamIn is an InEndpoint over an io.Writer. Each ClearIN writes the
// filled part of the bank; an empty bank writes nothing.
type StreamIn struct {
	w    io.Writer
	bank []byte
	n    int
}

// NewStreamIn returns a StreamIn writing banks of size bytes to w. A size
// of 0 selects DefaultBankSize.
func NewStreamIn(w io.Writer, size int) *StreamIn {
	if size <= 0 {
		size = DefaultBankSize
	}
	return &StreamIn{w: w, bank: make([]byte, size)}
}

// WaitUntilReady returns ctx.Err() if ctx is done. The bank is otherwise
// always available because ClearIN writes synchronously.
func (s *StreamIn) WaitUntilReady(ctx context.Context) error {
	return ctx.Err()
}

// Writable reports whether the bank has room.
func (s *StreamIn) Writable() bool { return s.n < len(s.bank) }

// Write copies p into the bank.
func (s *StreamIn) Write(p []byte) int {
	n := copy(s.bank[s.n:], p)
	s.n += n
	return n
}

// ClearIN writes the bank to the underlying writer.
func (s *StreamIn) ClearIN() error {
	if s.n == 0 {
		return nil
	}
	_, err := s.w.Write(s.bank[:s.n])
	s.n = 0
	return err
}

// StreamOut is an OutEndpoint over an io.Reader. A bank holds whatever a
// single Read returned, up to the bank size.
type StreamOut struct {
	r    io.Reader
	bank []byte
	off  int
	n    int
}

// NewStreamOut returns a StreamOut reading banks of up to size bytes from r.
// A size of 0 selects DefaultBankSize.
func NewStreamOut(r io.Reader, size int) *StreamOut {
	if size <= 0 {
		size = DefaultBankSize
	}
	return &StreamOut{r: r, bank: make([]byte, size)}
}

// WaitUntilReady blocks until the bank holds unread data. It returns
// io.EOF, or the reader's error, when the stream ends.
func (s *StreamOut) WaitUntilReady(ctx context.Context) error {
	for s.off == s.n {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.r.Read(s.bank)
		s.off, s.n = 0, n
		if n == 0 && err != nil {
			return err
		}
	}
	return nil
}

// Readable reports whether the bank holds unread data.
func (s *StreamOut) Readable() bool { return s.off < s.n }

// Read copies unread bank bytes into p.
func (s *StreamOut) Read(p []byte) int {
	n := copy(p, s.bank[s.off:s.n])
	s.off += n
	return n
}

// ClearOUT releases the bank once it is fully consumed. A byte stream has
// no packet boundaries, so unread bytes stay for the next reader.
func (s *StreamOut) ClearOUT() {
	if s.off == s.n {
		s.off, s.n = 0, 0
	}
}
