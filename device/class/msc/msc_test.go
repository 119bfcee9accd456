package msc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ardnew/sdbridge/pkg"
)

// client is the host side of a BOT connection.
type client struct {
	t    *testing.T
	conn net.Conn
	tag  uint32
	done chan error
}

func serve(t *testing.T, store Storage, cfg Config) (*client, *MSC) {
	t.Helper()
	server, conn := net.Pipe()
	m, err := New(store, NewStreamIn(server, 0), NewStreamOut(server, 0), cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	c := &client{t: t, conn: conn, done: make(chan error, 1)}
	go func() {
		c.done <- m.Run(context.Background())
		server.Close()
	}()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return c, m
}

// exchange sends cbw and out, then reads the expected IN data and the CSW.
func (c *client) exchange(cbw *CommandBlockWrapper, out []byte) ([]byte, CommandStatusWrapper) {
	c.t.Helper()
	c.tag++
	cbw.Tag = c.tag

	var buf [CBWSize]byte
	cbw.MarshalTo(buf[:])
	if _, err := c.conn.Write(buf[:]); err != nil {
		c.t.Fatalf("write CBW: %v", err)
	}
	if len(out) > 0 {
		if _, err := c.conn.Write(out); err != nil {
			c.t.Fatalf("write data: %v", err)
		}
	}

	var in []byte
	if cbw.IsDataIn() {
		in = make([]byte, cbw.DataTransferLength)
		if _, err := io.ReadFull(c.conn, in); err != nil {
			c.t.Fatalf("read data: %v", err)
		}
	}

	var raw [CSWSize]byte
	if _, err := io.ReadFull(c.conn, raw[:]); err != nil {
		c.t.Fatalf("read CSW: %v", err)
	}
	var csw CommandStatusWrapper
	if !ParseCSW(raw[:], &csw) {
		c.t.Fatalf("invalid CSW % x", raw)
	}
	if csw.Tag != c.tag {
		c.t.Fatalf("CSW tag = %d, want %d", csw.Tag, c.tag)
	}
	return in, csw
}

func (c *client) close() error {
	c.conn.Close()
	return <-c.done
}

func wantCSW(t *testing.T, csw CommandStatusWrapper, status uint8, residue uint32) {
	t.Helper()
	if csw.Status != status || csw.DataResidue != residue {
		t.Errorf("CSW status %d residue %d, want status %d residue %d", csw.Status, csw.DataResidue, status, residue)
	}
}

func TestRunInquiry(t *testing.T) {
	c, _ := serve(t, NewMemoryStorage(64), Config{})

	data, csw := c.exchange(command(CBWFlagDataIn, 36, SCSIInquiry, 0, 0, 0, 8, 0), nil)
	wantCSW(t, csw, CSWStatusGood, 28)
	if data[0] != DeviceTypeDisk || data[4] != InquiryStandardSize-5 {
		t.Errorf("INQUIRY header = % x", data[:8])
	}
	// Bytes past the allocation length are BOT padding, not INQUIRY data.
	if !bytes.Equal(data[8:], make([]byte, 28)) {
		t.Errorf("padding = % x, want zeros", data[8:])
	}

	if err := c.close(); !errors.Is(err, io.EOF) {
		t.Errorf("Run() = %v, want %v", err, io.EOF)
	}
}

func TestRunReadWrite(t *testing.T) {
	store := NewMemoryStorage(128)
	c, _ := serve(t, store, Config{})

	data := sectors(4, 0xC3)
	_, csw := c.exchange(writeCmd(10, 4), data)
	wantCSW(t, csw, CSWStatusGood, 0)

	got, csw := c.exchange(readCmd(10, 4), nil)
	wantCSW(t, csw, CSWStatusGood, 0)
	if !bytes.Equal(got, data) {
		t.Error("READ(10) data differs from WRITE(10) data")
	}
	if !bytes.Equal(store.Bytes()[10*BlockSize:14*BlockSize], data) {
		t.Error("storage differs from WRITE(10) data")
	}
}

func TestRunReadCapacity(t *testing.T) {
	c, _ := serve(t, NewMemoryStorage(262144), Config{})

	data, csw := c.exchange(command(CBWFlagDataIn, 8, SCSIReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0), nil)
	wantCSW(t, csw, CSWStatusGood, 0)
	if last := binary.BigEndian.Uint32(data[0:4]); last != 0x0003FFFF {
		t.Errorf("last LBA = %#x, want 0x3ffff", last)
	}
	if size := binary.BigEndian.Uint32(data[4:8]); size != BlockSize {
		t.Errorf("block length = %d, want %d", size, BlockSize)
	}
}

func TestRunFailedWriteDrainsData(t *testing.T) {
	c, _ := serve(t, NewMemoryStorage(64), Config{ReadOnly: true})

	_, csw := c.exchange(writeCmd(0, 2), sectors(2, 0))
	wantCSW(t, csw, CSWStatusFailed, 2*BlockSize)

	sense, csw := c.exchange(command(CBWFlagDataIn, 18, SCSIRequestSense, 0, 0, 0, 18, 0), nil)
	wantCSW(t, csw, CSWStatusGood, 0)
	if sense[2] != SenseDataProtect || sense[12] != ASCWriteProtected {
		t.Errorf("sense = %#x/%#x, want %#x/%#x", sense[2], sense[12], SenseDataProtect, ASCWriteProtected)
	}

	_, csw = c.exchange(command(CBWFlagDataOut, 0, SCSITestUnitReady, 0, 0, 0, 0, 0), nil)
	wantCSW(t, csw, CSWStatusGood, 0)
}

func TestRunFailedReadPadsData(t *testing.T) {
	c, _ := serve(t, NewMemoryStorage(64), Config{})

	data, csw := c.exchange(readCmd(64, 1), nil)
	wantCSW(t, csw, CSWStatusFailed, BlockSize)
	if !bytes.Equal(data, make([]byte, BlockSize)) {
		t.Error("failed READ(10) padding is not zero")
	}
}

func TestRunSkipsInvalidCBW(t *testing.T) {
	c, _ := serve(t, NewMemoryStorage(64), Config{})

	junk := bytes.Repeat([]byte{0xEE}, CBWSize)
	if _, err := c.conn.Write(junk); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	_, csw := c.exchange(command(CBWFlagDataOut, 0, SCSITestUnitReady, 0, 0, 0, 0, 0), nil)
	wantCSW(t, csw, CSWStatusGood, 0)
}

func TestRunAbortSendsNoCSW(t *testing.T) {
	var script bytes.Buffer
	var buf [CBWSize]byte
	read := readCmd(0, 4)
	read.Tag = 1
	read.MarshalTo(buf[:])
	script.Write(buf[:])
	tur := command(CBWFlagDataOut, 0, SCSITestUnitReady, 0, 0, 0, 0, 0)
	tur.Tag = 2
	tur.MarshalTo(buf[:])
	script.Write(buf[:])

	var out bytes.Buffer
	in := &resettingIn{StreamIn: NewStreamIn(&out, 0), n: 2}
	m, err := New(NewMemoryStorage(64), in, NewStreamOut(&script, 0), Config{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	in.reset = m.Reset

	if err := m.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Run() = %v, want %v", err, io.EOF)
	}

	got := out.Bytes()
	if n := bytes.Count(got, []byte("USBS")); n != 1 {
		t.Fatalf("sent %d CSWs, want 1", n)
	}
	var csw CommandStatusWrapper
	if !ParseCSW(got[len(got)-CSWSize:], &csw) || csw.Tag != 2 {
		t.Errorf("last CSW = %+v, want tag 2", csw)
	}
}

func TestRunCanceled(t *testing.T) {
	m, err := New(NewMemoryStorage(1), NewStreamIn(io.Discard, 0), NewStreamOut(bytes.NewReader(nil), 0), Config{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want %v", err, context.Canceled)
	}
}

func TestNewConfig(t *testing.T) {
	store := NewMemoryStorage(1)
	in, out := NewStreamIn(io.Discard, 0), NewStreamOut(bytes.NewReader(nil), 0)

	tests := []struct {
		name    string
		storage Storage
		cfg     Config
	}{
		{"no storage", nil, Config{}},
		{"negative units", store, Config{LUNs: -1}},
		{"too many units", store, Config{LUNs: MaxLUNs + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.storage, in, out, tt.cfg); !errors.Is(err, pkg.ErrParam) {
				t.Errorf("New() = %v, want %v", err, pkg.ErrParam)
			}
		})
	}

	m, err := New(store, in, out, Config{LUNs: MaxLUNs})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if got := m.MaxLUN(); got != MaxLUNs-1 {
		t.Errorf("MaxLUN() = %d, want %d", got, MaxLUNs-1)
	}
	if got := m.Config().Product; got != DefaultProduct {
		t.Errorf("Config().Product = %q, want %q", got, DefaultProduct)
	}
}
