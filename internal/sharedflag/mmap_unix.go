//go:build unix

package sharedflag

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

type mapping struct {
	data []byte
	word *uint32
}

func mapFile(f *os.File) (*mapping, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// mmap returns page aligned memory, so the word is suitably aligned.
	return &mapping{data: data, word: (*uint32)(unsafe.Pointer(&data[0]))}, nil
}

func (m *mapping) load() uint32   { return atomic.LoadUint32(m.word) }
func (m *mapping) store(v uint32) { atomic.StoreUint32(m.word, v) }

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
