package page

import "encoding/binary"

// HeaderPage is the fixed, well-known page that records (index name → root
// page id) so that reopening the store can find every index's root without
// an external catalog file. Adapted from the teacher's JSON-backed Catalog
// (pkg/db/catalog.go), moved on top of the page store itself per spec §6.
//
// Layout: a 4-byte record count, followed by that many fixed records of
// nameLen(4) + name(maxNameLen, first nameLen bytes used) + rootPageID(4).
const (
	maxNameLen        = 64
	headerRecordSize  = 4 + maxNameLen + 4
	headerCountOffset = 0
	headerFirstRecord = 4
)

type HeaderPage struct {
	Data []byte
}

func NewHeaderPage(p *Page) *HeaderPage {
	return &HeaderPage{Data: p.Data[:]}
}

// Init zeroes the record count. Called exactly once, when the header page
// is first allocated.
func (h *HeaderPage) Init() {
	binary.LittleEndian.PutUint32(h.Data[headerCountOffset:], 0)
}

func (h *HeaderPage) count() int {
	return int(binary.LittleEndian.Uint32(h.Data[headerCountOffset:]))
}

func (h *HeaderPage) recordOffset(i int) int {
	return headerFirstRecord + i*headerRecordSize
}

func (h *HeaderPage) recordAt(i int) (name string, root PageID) {
	off := h.recordOffset(i)
	nameLen := int(binary.LittleEndian.Uint32(h.Data[off:]))
	name = string(h.Data[off+4 : off+4+nameLen])
	root = PageID(binary.LittleEndian.Uint32(h.Data[off+4+maxNameLen:]))
	return
}

func (h *HeaderPage) writeRecordAt(i int, name string, root PageID) {
	off := h.recordOffset(i)
	binary.LittleEndian.PutUint32(h.Data[off:], uint32(len(name)))
	copy(h.Data[off+4:off+4+maxNameLen], name)
	binary.LittleEndian.PutUint32(h.Data[off+4+maxNameLen:], uint32(root))
}

// GetRootPageID looks up an index's root page id by name.
func (h *HeaderPage) GetRootPageID(name string) (PageID, bool) {
	for i := 0; i < h.count(); i++ {
		if n, root := h.recordAt(i); n == name {
			return root, true
		}
	}
	return InvalidPageID, false
}

// InsertRecord adds a new (name → root) mapping. Fails if name already
// exists or if the page has run out of slots.
func (h *HeaderPage) InsertRecord(name string, root PageID) bool {
	if len(name) > maxNameLen {
		return false
	}
	if _, ok := h.GetRootPageID(name); ok {
		return false
	}
	n := h.count()
	if h.recordOffset(n+1) > len(h.Data) {
		return false
	}
	h.writeRecordAt(n, name, root)
	binary.LittleEndian.PutUint32(h.Data[headerCountOffset:], uint32(n+1))
	return true
}

// UpdateRecord overwrites an existing mapping's root page id.
func (h *HeaderPage) UpdateRecord(name string, root PageID) bool {
	for i := 0; i < h.count(); i++ {
		if n, _ := h.recordAt(i); n == name {
			h.writeRecordAt(i, name, root)
			return true
		}
	}
	return false
}

// DeleteRecord removes a mapping by swapping the last record into its slot.
func (h *HeaderPage) DeleteRecord(name string) bool {
	n := h.count()
	for i := 0; i < n; i++ {
		if rn, _ := h.recordAt(i); rn == name {
			if i != n-1 {
				lastName, lastRoot := h.recordAt(n - 1)
				h.writeRecordAt(i, lastName, lastRoot)
			}
			binary.LittleEndian.PutUint32(h.Data[headerCountOffset:], uint32(n-1))
			return true
		}
	}
	return false
}

// Names returns every registered index name, for diagnostics/demo use.
func (h *HeaderPage) Names() []string {
	n := h.count()
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, _ := h.recordAt(i)
		names = append(names, name)
	}
	return names
}
