// Package disk is the byte-addressable page reader/writer the buffer pool
// runs on top of (spec's "disk adapter", treated as an external
// collaborator — this is the minimal concrete implementation needed to
// exercise the pool and the index against a real file).
package disk

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"dbkernel/pkg/storage/page"
)

// DiskManager is the adapter the buffer pool consumes: read_page,
// write_page, allocate_page, deallocate_page (spec §6).
type DiskManager interface {
	ReadPage(pageID page.PageID, p *page.Page) error
	WritePage(pageID page.PageID, p *page.Page) error
	AllocatePage() page.PageID
	DeallocatePage(pageID page.PageID)
	Close() error
}

// DiskManagerImpl backs the adapter with a single flat file; page i occupies
// bytes [i*PageSize, (i+1)*PageSize).
type DiskManagerImpl struct {
	mu         sync.Mutex
	dbFile     *os.File
	fileName   string
	nextPageID int64 // atomic
}

func NewDiskManager(dbFileName string) (*DiskManagerImpl, error) {
	dir := filepath.Dir(dbFileName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(dbFileName, os.O_RDWR|os.O_CREATE, 0664)
	if err != nil {
		return nil, err
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, err
	}

	return &DiskManagerImpl{
		dbFile:     file,
		fileName:   dbFileName,
		nextPageID: fileInfo.Size() / page.PageSize,
	}, nil
}

func (d *DiskManagerImpl) Close() error {
	return d.dbFile.Close()
}

func (d *DiskManagerImpl) ReadPage(pageID page.PageID, p *page.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(pageID) * int64(page.PageSize)
	if _, err := d.dbFile.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	n, err := io.ReadFull(d.dbFile, p.Data[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Page was allocated but never written; treat as all-zero.
			for i := n; i < page.PageSize; i++ {
				p.Data[i] = 0
			}
			return nil
		}
		return err
	}
	return nil
}

func (d *DiskManagerImpl) WritePage(pageID page.PageID, p *page.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(pageID) * int64(page.PageSize)
	if _, err := d.dbFile.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := d.dbFile.Write(p.Data[:])
	return err
}

// AllocatePage hands out the next page id. Append-only; no reuse of
// deallocated ids, matching the teacher's simplified strategy.
func (d *DiskManagerImpl) AllocatePage() page.PageID {
	return page.PageID(atomic.AddInt64(&d.nextPageID, 1) - 1)
}

// DeallocatePage is a no-op in this simplified adapter: disk space is never
// reclaimed, only the buffer pool's in-memory mappings are freed.
func (d *DiskManagerImpl) DeallocatePage(pageID page.PageID) {}
