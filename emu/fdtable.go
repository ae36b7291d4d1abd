package emu

import (
	"errors"
	"os"
	"sync"
)

// Open flags of the semihosting SYS_OPEN modes, which follow fopen:
// r, rb, r+, r+b, w, wb, w+, w+b, a, ab, a+, a+b.
var semihostOpenFlags = [12]int{
	os.O_RDONLY, os.O_RDONLY,
	os.O_RDWR, os.O_RDWR,
	os.O_WRONLY | os.O_CREATE | os.O_TRUNC, os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	os.O_RDWR | os.O_CREATE | os.O_TRUNC, os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	os.O_WRONLY | os.O_CREATE | os.O_APPEND, os.O_WRONLY | os.O_CREATE | os.O_APPEND,
	os.O_RDWR | os.O_CREATE | os.O_APPEND, os.O_RDWR | os.O_CREATE | os.O_APPEND,
}

// firstFileHandle is the first handle given to a host file. Handles 0-2
// are the console streams.
const firstFileHandle = 3

var errBadHandle = errors.New("bad semihosting handle")

// FDTable maps semihosting file handles to host files.
type FDTable struct {
	mu     sync.Mutex
	files  map[uint64]*os.File
	nextFD uint64
}

// NewFDTable creates an empty handle table.
func NewFDTable() *FDTable {
	return &FDTable{
		files:  make(map[uint64]*os.File),
		nextFD: firstFileHandle,
	}
}

// Open opens path on the host with a SYS_OPEN mode and returns its handle.
func (t *FDTable) Open(path string, mode uint64) (uint64, error) {
	if mode >= uint64(len(semihostOpenFlags)) {
		return 0, os.ErrInvalid
	}
	f, err := os.OpenFile(path, semihostOpenFlags[mode], 0o644)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFD
	t.nextFD++
	t.files[fd] = f
	return fd, nil
}

// Get returns the host file of handle fd.
func (t *FDTable) Get(fd uint64) (*os.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	return f, ok
}

// Close closes handle fd.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	delete(t.files, fd)
	t.mu.Unlock()

	if !ok {
		return errBadHandle
	}
	return f.Close()
}

// CloseAll closes every open host file.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, f := range t.files {
		_ = f.Close()
		delete(t.files, fd)
	}
}
