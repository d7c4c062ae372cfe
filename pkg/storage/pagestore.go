package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
)

// PageStore owns the page file: a flat sequence of PageSize slots, a
// free list of previously freed ids available for reuse, and a counter
// handing out fresh ids once the free list is empty. Page 0 is always
// reserved for the table-of-contents and is written on creation.
type PageStore struct {
	mu      sync.Mutex
	file    *os.File
	counter *pageCounter
	free    []uint64
}

// OpenPageStore opens (creating if absent) the page file at path. A
// freshly created file gets an empty TOC written to page 0 immediately
// so PageSize-aligned reads never see a short file.
func OpenPageStore(path string) (*PageStore, error) {
	created := false
	if _, err := os.Stat(path); err != nil {
		created = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &dberrors.StorageFailureError{Op: "open page file", Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &dberrors.StorageFailureError{Op: "stat page file", Err: err}
	}
	pageCount := uint64(info.Size()) / PageSize

	ps := &PageStore{
		file:    f,
		counter: newPageCounter(pageCount),
	}

	if created {
		if _, err := ps.Allocate(); err != nil {
			f.Close()
			return nil, err
		}
		toc := NewPage(TOCPageID)
		if err := ps.Write(toc); err != nil {
			f.Close()
			return nil, err
		}
	}
	return ps, nil
}

// Allocate returns an unused page id: reused from the free list if one
// is available, otherwise a fresh id extending the file.
func (ps *PageStore) Allocate() (uint64, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if n := len(ps.free); n > 0 {
		id := ps.free[n-1]
		ps.free = ps.free[:n-1]
		return id, nil
	}

	id := ps.counter.Take()
	if err := ps.file.Truncate(int64(id+1) * PageSize); err != nil {
		return 0, &dberrors.StorageFailureError{Op: "extend page file", Err: err}
	}
	return id, nil
}

// Read loads the page at id from disk.
func (ps *PageStore) Read(id uint64) (*Page, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	page := NewPage(id)
	n, err := ps.file.ReadAt(page.Data, int64(id)*PageSize)
	if err != nil && n == 0 {
		return nil, &dberrors.StorageFailureError{Op: fmt.Sprintf("read page %d", id), Err: err}
	}
	return page, nil
}

// Write persists page's payload to its slot.
func (ps *PageStore) Write(page *Page) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, err := ps.file.WriteAt(page.Data, int64(page.ID)*PageSize); err != nil {
		return &dberrors.StorageFailureError{Op: fmt.Sprintf("write page %d", page.ID), Err: err}
	}
	page.Dirty = false
	return nil
}

// Free returns id to the free list for future reuse. The slot's bytes
// are left untouched; a later Allocate/Write will overwrite them.
func (ps *PageStore) Free(id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.free = append(ps.free, id)
}

// Sync forces the page file to durable storage.
func (ps *PageStore) Sync() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if err := ps.file.Sync(); err != nil {
		return &dberrors.StorageFailureError{Op: "sync page file", Err: err}
	}
	return nil
}

// Close closes the underlying file.
func (ps *PageStore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.file.Close()
}
