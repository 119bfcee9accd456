package msc

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
	"github.com/ardnew/sdbridge/sdcard/sdsim"
)

func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage(16)
	if got := m.BlockCount(); got != 16 {
		t.Errorf("BlockCount() = %d, want 16", got)
	}

	data := sectors(2, 0x42)
	if err := m.WriteBlocks(data, 14, 2); err != nil {
		t.Fatalf("WriteBlocks() = %v", err)
	}
	got := make([]byte, len(data))
	if err := m.ReadBlocks(got, 14, 2); err != nil {
		t.Fatalf("ReadBlocks() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadBlocks() data differs from written data")
	}

	tests := []struct {
		name       string
		buf        []byte
		lba, count uint32
	}{
		{"past end", data, 15, 2},
		{"zero count", data, 0, 0},
		{"short buffer", data[:BlockSize], 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.ReadBlocks(tt.buf, tt.lba, tt.count); !errors.Is(err, pkg.ErrParam) {
				t.Errorf("ReadBlocks() = %v, want %v", err, pkg.ErrParam)
			}
			if err := m.WriteBlocks(tt.buf, tt.lba, tt.count); !errors.Is(err, pkg.ErrParam) {
				t.Errorf("WriteBlocks() = %v, want %v", err, pkg.ErrParam)
			}
		})
	}

	m.SetPresent(false)
	if m.Ready() || m.BlockCount() != 0 {
		t.Errorf("absent medium Ready() = %v, BlockCount() = %d, want false, 0", m.Ready(), m.BlockCount())
	}
	if err := m.ReadBlocks(got, 0, 1); !errors.Is(err, pkg.ErrNoDisk) {
		t.Errorf("ReadBlocks() without medium = %v, want %v", err, pkg.ErrNoDisk)
	}
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	f, err := OpenFileStorage(path, false, 16)
	if err != nil {
		t.Fatalf("OpenFileStorage() = %v", err)
	}
	if got := f.BlockCount(); got != 16 {
		t.Errorf("BlockCount() = %d, want 16", got)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() = %v", err)
	}
	if st.Size() != 16*BlockSize {
		t.Errorf("created image size = %d, want %d", st.Size(), 16*BlockSize)
	}

	data := sectors(3, 0x17)
	if err := f.WriteBlocks(data, 4, 3); err != nil {
		t.Fatalf("WriteBlocks() = %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Errorf("Sync() = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if f.Ready() {
		t.Error("Ready() = true after Close")
	}

	ro, err := OpenFileStorage(path, true, 0)
	if err != nil {
		t.Fatalf("OpenFileStorage(read-only) = %v", err)
	}
	defer ro.Close()

	got := make([]byte, len(data))
	if err := ro.ReadBlocks(got, 4, 3); err != nil {
		t.Fatalf("ReadBlocks() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("reopened image data differs from written data")
	}
	if err := ro.WriteBlocks(data, 0, 1); !errors.Is(err, pkg.ErrWriteProtected) {
		t.Errorf("WriteBlocks() on read-only image = %v, want %v", err, pkg.ErrWriteProtected)
	}
}

func TestFileStorageMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.img")

	if _, err := OpenFileStorage(path, true, DefaultLoopbackBlocks); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFileStorage(read-only) = %v, want %v", err, fs.ErrNotExist)
	}
	if _, err := OpenFileStorage(path, false, 0); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFileStorage(no create) = %v, want %v", err, fs.ErrNotExist)
	}
}

func TestCardStorage(t *testing.T) {
	sim := sdsim.New(sdsim.Config{Sectors: 2048}, nil)
	var card *sdcard.Card
	card = sdcard.New(sim, sdcard.WithSocket(sim), sdcard.WithYield(func() { card.TimerService() }))

	if _, err := NewCardStorage(card); !errors.Is(err, pkg.ErrNotReady) {
		t.Errorf("NewCardStorage() before Initialize = %v, want %v", err, pkg.ErrNotReady)
	}
	if err := card.Initialize(); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}

	s, err := NewCardStorage(card)
	if err != nil {
		t.Fatalf("NewCardStorage() = %v", err)
	}
	if got := s.BlockCount(); got != 2048 {
		t.Errorf("BlockCount() = %d, want 2048", got)
	}

	data := sectors(2, 0x99)
	if err := s.WriteBlocks(data, 100, 2); err != nil {
		t.Fatalf("WriteBlocks() = %v", err)
	}
	if err := s.Sync(); err != nil {
		t.Errorf("Sync() = %v", err)
	}
	got := make([]byte, len(data))
	if err := s.ReadBlocks(got, 100, 2); err != nil {
		t.Fatalf("ReadBlocks() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadBlocks() data differs from written data")
	}

	sim.SetPresent(false)
	card.TimerService()
	if s.Ready() || s.BlockCount() != 0 {
		t.Errorf("removed card Ready() = %v, BlockCount() = %d, want false, 0", s.Ready(), s.BlockCount())
	}
}
