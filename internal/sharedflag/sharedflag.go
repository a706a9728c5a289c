// Package sharedflag provides a boolean shared between processes through a
// small file. The coordinator creates the file and hands its path to each
// worker, which opens it. Any process may set the flag; the supervisor
// polls it.
package sharedflag

import (
	"fmt"
	"os"
	"sync"
)

// size is the length of the backing file: one 32-bit word.
const size = 4

// Flag is a handle on a shared error flag. After Close the handle reads as
// cleared and ignores writes.
type Flag struct {
	path string

	mu  sync.RWMutex
	mem *mapping
}

// Create creates (or truncates) the backing file at path and maps it with
// the flag cleared.
func Create(path string) (*Flag, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create shared flag: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("size shared flag: %w", err)
	}
	return open(path, f)
}

// Open maps an existing flag file.
func Open(path string) (*Flag, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open shared flag: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shared flag: %w", err)
	}
	if st.Size() < size {
		return nil, fmt.Errorf("shared flag %s is %d bytes, want %d", path, st.Size(), size)
	}
	return open(path, f)
}

func open(path string, f *os.File) (*Flag, error) {
	mem, err := mapFile(f)
	if err != nil {
		return nil, fmt.Errorf("map shared flag: %w", err)
	}
	return &Flag{path: path, mem: mem}, nil
}

// Path returns the backing file path, to be passed to other processes.
func (f *Flag) Path() string { return f.path }

// Set raises the flag.
func (f *Flag) Set() { f.store(1) }

// Clear lowers the flag.
func (f *Flag) Clear() { f.store(0) }

func (f *Flag) store(v uint32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.mem != nil {
		f.mem.store(v)
	}
}

// IsSet reports whether any process raised the flag.
func (f *Flag) IsSet() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mem != nil && f.mem.load() != 0
}

// Close unmaps the flag. The backing file is left in place.
func (f *Flag) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mem == nil {
		return nil
	}
	err := f.mem.close()
	f.mem = nil
	return err
}

// Remove closes the flag and deletes its backing file.
func (f *Flag) Remove() error {
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
