// Package store provides a usable interfaces.PagedStore: a named-file
// directory and free-page allocator backed by an afero.Fs, so the tree
// and its buffer manager have somewhere real to live in tests and
// standalone use without pulling in an external page-file project.
package store

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/daview/sortedkv-bptree/interfaces"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const pageSize = 1024 // must match bptree.PageSize

const (
	pagesFileName   = "pages.dat"
	catalogFileName = "catalog.gob"
)

// catalog is the small piece of state that must survive a restart: which
// names map to which header page, the free list, and the next page id to
// mint. It is gob-encoded to catalogFileName on every mutation.
type catalog struct {
	Files map[string]interfaces.PageID
	Free  []interfaces.PageID
	Next  interfaces.PageID
}

// Store is a single fixed-page-size file plus a small catalog sidecar
// file, both addressed through afero so the whole thing also runs against
// an in-memory filesystem in tests.
type Store struct {
	fs   afero.Fs
	dir  string
	pf   afero.File
	cat  catalog
	log  *zap.Logger
}

// Open opens or creates a store rooted at dir on fs.
func Open(fs afero.Fs, dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	pf, err := fs.OpenFile(filepath.Join(dir, pagesFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open page file: %w", err)
	}
	s := &Store{fs: fs, dir: dir, pf: pf, log: log}
	if err := s.loadCatalog(); err != nil {
		pf.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the page file. Page writes and the catalog have already
// reached the filesystem, so nothing is written here.
func (s *Store) Close() error {
	return s.pf.Close()
}

func (s *Store) catalogPath() string { return filepath.Join(s.dir, catalogFileName) }

func (s *Store) loadCatalog() error {
	f, err := s.fs.Open(s.catalogPath())
	if os.IsNotExist(err) {
		s.cat = catalog{Files: make(map[string]interfaces.PageID)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open catalog: %w", err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&s.cat); err != nil {
		return fmt.Errorf("store: decode catalog: %w", err)
	}
	if s.cat.Files == nil {
		s.cat.Files = make(map[string]interfaces.PageID)
	}
	return nil
}

func (s *Store) saveCatalog() error {
	f, err := s.fs.OpenFile(s.catalogPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("store: write catalog: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(s.cat); err != nil {
		return fmt.Errorf("store: encode catalog: %w", err)
	}
	return nil
}

// GetFileEntry resolves name to its header page id.
func (s *Store) GetFileEntry(name string) (interfaces.PageID, bool) {
	pid, ok := s.cat.Files[name]
	return pid, ok
}

// AddFileEntry records a new named index.
func (s *Store) AddFileEntry(name string, pid interfaces.PageID) error {
	s.cat.Files[name] = pid
	return s.saveCatalog()
}

// DeleteFileEntry removes a named index's directory entry.
func (s *Store) DeleteFileEntry(name string) error {
	delete(s.cat.Files, name)
	return s.saveCatalog()
}

// AllocatePage reserves runSize contiguous pages and returns the first's
// id. Only single-page runs are supported: the tree never asks for more.
func (s *Store) AllocatePage(runSize int) (interfaces.PageID, error) {
	if runSize != 1 {
		return 0, fmt.Errorf("store: unsupported run size %d", runSize)
	}
	if n := len(s.cat.Free); n > 0 {
		pid := s.cat.Free[n-1]
		s.cat.Free = s.cat.Free[:n-1]
		if err := s.saveCatalog(); err != nil {
			return 0, err
		}
		return pid, nil
	}
	pid := s.cat.Next
	s.cat.Next++
	if err := s.pf.Truncate(int64(pid+1) * pageSize); err != nil {
		return 0, fmt.Errorf("store: extend page file: %w", err)
	}
	if err := s.saveCatalog(); err != nil {
		return 0, err
	}
	return pid, nil
}

// DeallocatePage releases runSize pages starting at pid back to the free
// list.
func (s *Store) DeallocatePage(pid interfaces.PageID, runSize int) error {
	if runSize != 1 {
		return fmt.Errorf("store: unsupported run size %d", runSize)
	}
	s.cat.Free = append(s.cat.Free, pid)
	return s.saveCatalog()
}

// ReadPage reads one fixed-size page. A page past the current end of
// file (possible right after AllocatePage, before any write) reads as
// all zero.
func (s *Store) ReadPage(pid interfaces.PageID) ([]byte, error) {
	buf := make([]byte, pageSize)
	_, err := s.pf.ReadAt(buf, int64(pid)*pageSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("store: read page %d: %w", pid, err)
	}
	return buf, nil
}

// WritePage writes one fixed-size page.
func (s *Store) WritePage(pid interfaces.PageID, buf []byte) error {
	if len(buf) != pageSize {
		return fmt.Errorf("store: write page %d: expected %d bytes, got %d", pid, pageSize, len(buf))
	}
	if _, err := s.pf.WriteAt(buf, int64(pid)*pageSize); err != nil {
		return fmt.Errorf("store: write page %d: %w", pid, err)
	}
	return nil
}
