package msc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
)

// Storage is a sequence of BlockSize blocks backing the logical units.
//
// ReadBlocks and WriteBlocks move count blocks at lba through buf, which
// holds at least count*BlockSize bytes.
type Storage interface {
	BlockCount() uint32
	ReadBlocks(buf []byte, lba, count uint32) error
	WriteBlocks(buf []byte, lba, count uint32) error
	Sync() error
	Ready() bool
}

// DefaultLoopbackBlocks is the size of a loopback image created by
// OpenFileStorage when the file does not exist (128 MiB).
const DefaultLoopbackBlocks = 262144

// checkRange validates a block request against a store of blocks blocks.
func checkRange(buf []byte, lba, count, blocks uint32) error {
	if count == 0 || uint64(len(buf)) < uint64(count)*BlockSize {
		return pkg.ErrParam
	}
	if uint64(lba)+uint64(count) > uint64(blocks) {
		return fmt.Errorf("blocks %d+%d beyond %d: %w", lba, count, blocks, pkg.ErrParam)
	}
	return nil
}

// CardStorage exposes an initialized card through the block driver.
type CardStorage struct {
	card   *sdcard.Card
	blocks uint32
}

// NewCardStorage queries the card's sector count and returns the storage.
// The card must already be initialized.
func NewCardStorage(card *sdcard.Card) (*CardStorage, error) {
	n, err := card.SectorCount()
	if err != nil {
		return nil, fmt.Errorf("card storage: %w", err)
	}
	pkg.LogInfo(pkg.ComponentStorage, "card storage ready",
		"type", card.Type(),
		"blocks", n)
	return &CardStorage{card: card, blocks: n}, nil
}

// BlockCount returns the sector count, or 0 while the card is not
// initialized.
func (s *CardStorage) BlockCount() uint32 {
	if !s.Ready() {
		return 0
	}
	return s.blocks
}

// ReadBlocks reads sectors from the card.
func (s *CardStorage) ReadBlocks(buf []byte, lba, count uint32) error {
	return s.card.Read(buf, lba, count)
}

// WriteBlocks writes sectors to the card.
func (s *CardStorage) WriteBlocks(buf []byte, lba, count uint32) error {
	return s.card.Write(buf, lba, count)
}

// Sync waits for the card to finish internal writes.
func (s *CardStorage) Sync() error { return s.card.Sync() }

// Ready reports whether the card is initialized.
func (s *CardStorage) Ready() bool {
	return s.card.Status()&sdcard.StatusNoInit == 0
}

// MemoryStorage is a RAM disk.
type MemoryStorage struct {
	data    []byte
	present bool
	mutex   sync.RWMutex
}

// NewMemoryStorage creates an in-memory storage of blocks blocks.
func NewMemoryStorage(blocks uint32) *MemoryStorage {
	return &MemoryStorage{
		data:    make([]byte, int(blocks)*BlockSize),
		present: true,
	}
}

// BlockCount returns the number of blocks, or 0 while the medium is absent.
func (m *MemoryStorage) BlockCount() uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.present {
		return 0
	}
	return uint32(len(m.data) / BlockSize)
}

// ReadBlocks copies blocks out of memory.
func (m *MemoryStorage) ReadBlocks(buf []byte, lba, count uint32) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if !m.present {
		return pkg.ErrNoDisk
	}
	if err := checkRange(buf, lba, count, uint32(len(m.data)/BlockSize)); err != nil {
		return err
	}

	off := int(lba) * BlockSize
	copy(buf, m.data[off:off+int(count)*BlockSize])
	return nil
}

// WriteBlocks copies blocks into memory.
func (m *MemoryStorage) WriteBlocks(buf []byte, lba, count uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.present {
		return pkg.ErrNoDisk
	}
	if err := checkRange(buf, lba, count, uint32(len(m.data)/BlockSize)); err != nil {
		return err
	}

	off := int(lba) * BlockSize
	copy(m.data[off:off+int(count)*BlockSize], buf)
	return nil
}

// Sync is a no-op for memory storage.
func (m *MemoryStorage) Sync() error {
	return nil
}

// Ready reports whether the medium is present.
func (m *MemoryStorage) Ready() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.present
}

// SetPresent inserts or removes the medium.
func (m *MemoryStorage) SetPresent(present bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.present = present
}

// Bytes returns the backing memory for inspection. It is not synchronized
// with concurrent block I/O.
func (m *MemoryStorage) Bytes() []byte { return m.data }

// FileStorage is a loopback image file standing in for a card.
type FileStorage struct {
	file     *os.File
	blocks   uint32
	readOnly bool
	mutex    sync.RWMutex
}

// OpenFileStorage opens the image at path. A missing file is created with
// create blocks unless readOnly is set or create is 0. Bytes past the last
// whole block are ignored.
func OpenFileStorage(path string, readOnly bool, create uint32) (*FileStorage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0)
	if errors.Is(err, fs.ErrNotExist) && !readOnly && create > 0 {
		file, err = createImage(path, create)
	}
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	blocks := stat.Size() / BlockSize
	if blocks > int64(^uint32(0)) {
		file.Close()
		return nil, fmt.Errorf("image %s has %d blocks: %w", path, blocks, pkg.ErrParam)
	}

	pkg.LogInfo(pkg.ComponentStorage, "loopback image",
		"path", path,
		"blocks", blocks,
		"readOnly", readOnly)

	return &FileStorage{
		file:     file,
		blocks:   uint32(blocks),
		readOnly: readOnly,
	}, nil
}

func createImage(path string, blocks uint32) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(int64(blocks) * BlockSize); err != nil {
		file.Close()
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentStorage, "created loopback image",
		"path", path,
		"blocks", blocks)
	return file, nil
}

// BlockCount returns the number of whole blocks in the image.
func (f *FileStorage) BlockCount() uint32 {
	return f.blocks
}

// ReadBlocks reads blocks from the image.
func (f *FileStorage) ReadBlocks(buf []byte, lba, count uint32) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return pkg.ErrNoDisk
	}
	if err := checkRange(buf, lba, count, f.blocks); err != nil {
		return err
	}

	n := int(count) * BlockSize
	if _, err := f.file.ReadAt(buf[:n], int64(lba)*BlockSize); err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return nil
}

// WriteBlocks writes blocks to the image.
func (f *FileStorage) WriteBlocks(buf []byte, lba, count uint32) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return pkg.ErrNoDisk
	}
	if f.readOnly {
		return pkg.ErrWriteProtected
	}
	if err := checkRange(buf, lba, count, f.blocks); err != nil {
		return err
	}

	n := int(count) * BlockSize
	if _, err := f.file.WriteAt(buf[:n], int64(lba)*BlockSize); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// Sync flushes image writes to disk.
func (f *FileStorage) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil || f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// Ready reports whether the image is open.
func (f *FileStorage) Ready() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.file != nil
}

// Close closes the underlying file.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}
