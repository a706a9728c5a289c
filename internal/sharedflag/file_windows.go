//go:build windows

package sharedflag

import (
	"encoding/binary"
	"os"
	"sync"
)

// On Windows the word is read and written through the file itself; the
// file cache makes writes visible to every process that has it open.
type mapping struct {
	mu sync.Mutex
	f  *os.File
}

func mapFile(f *os.File) (*mapping, error) {
	dup, err := os.OpenFile(f.Name(), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &mapping{f: dup}, nil
}

func (m *mapping) load() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buf [size]byte
	if _, err := m.f.ReadAt(buf[:], 0); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (m *mapping) store(v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buf [size]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = m.f.WriteAt(buf[:], 0)
}

func (m *mapping) close() error {
	return m.f.Close()
}
