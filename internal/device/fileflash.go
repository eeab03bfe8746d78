package device

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"otad/internal/partition"
)

// FileFlash backs the flash with an image file of fixed size, so that
// the contents survive restarts of the simulator.
type FileFlash struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFileFlash opens (or creates) path as a flash image of size bytes.
// A new or short file is padded with erased (0xFF) bytes.
func OpenFileFlash(path string, size int) (*FileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}
	if cur := int(st.Size()); cur < size {
		pad := bytes.Repeat([]byte{0xFF}, size-cur)
		if _, err := f.WriteAt(pad, int64(cur)); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialise flash image: %w", err)
		}
	} else if cur > size {
		f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, device has %d", path, cur, size)
	}
	return &FileFlash{f: f, size: size}, nil
}

func (ff *FileFlash) EraseSector(index int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	addr, err := sectorAddr(index, ff.size)
	if err != nil {
		return err
	}
	_, err = ff.f.WriteAt(bytes.Repeat([]byte{0xFF}, partition.SectorSize), int64(addr))
	return err
}

func (ff *FileFlash) Write(addr uint32, p []byte) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err := checkRange("write", addr, len(p), ff.size); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if _, err := ff.f.ReadAt(cur, int64(addr)); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	_, err := ff.f.WriteAt(cur, int64(addr))
	return err
}

func (ff *FileFlash) Read(addr uint32, n int) ([]byte, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err := checkRange("read", addr, n, ff.size); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := ff.f.ReadAt(out, int64(addr)); err != nil {
		return nil, err
	}
	return out, nil
}

// Close syncs and closes the image file.
func (ff *FileFlash) Close() error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err := ff.f.Sync(); err != nil {
		ff.f.Close()
		return err
	}
	return ff.f.Close()
}
