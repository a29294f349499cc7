package handler

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

type openFile struct {
	file *os.File

	// allowCompression marks read-only opens; writable streams are never
	// served compressed
	allowCompression bool
}

// State is the per-connection open-handle table. Handles count up from 1 and
// are never reused within a connection, so a read after close always misses
// instead of hitting a recycled slot. Handle 0 is the wire value for
// "open failed" and is never allocated.
type State struct {
	mu         sync.Mutex
	nextHandle int32
	files      map[int32]*openFile
}

func (s *State) add(file *os.File, allowCompression bool) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files == nil {
		s.files = make(map[int32]*openFile)
	}

	s.nextHandle++
	s.files[s.nextHandle] = &openFile{file: file, allowCompression: allowCompression}

	return s.nextHandle
}

func (s *State) get(handle int32) (*openFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.files[handle]
	return entry, ok
}

func (s *State) remove(handle int32) (*openFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.files[handle]
	if ok {
		delete(s.files, handle)
	}

	return entry, ok
}

// Close releases every handle still open at connection teardown.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for handle, entry := range s.files {
		if err := entry.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close handle %d failed: %w", handle, err))
		}
	}
	s.files = nil

	return errors.Join(errs...)
}
