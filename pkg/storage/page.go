package storage

// PageSize is the fixed size of every slot in the page file; chosen to
// match the original engine's default (16 KiB), large enough to hold
// dozens of typical records per page without excessive fragmentation.
const PageSize = 16384

// PageHeaderSize is the part of every PageSize slot that is not payload.
// The payload is written at the start of the slot, so these bytes are
// the slot's unused tail; the codec's chunk-length prefix lives inside
// the payload itself.
const PageHeaderSize = 16

// PayloadSize is how many bytes of a page a caller may fill.
const PayloadSize = PageSize - PageHeaderSize

// TOCPageID is the fixed id of the table-of-contents page.
const TOCPageID = uint64(0)

// Page is a fixed-size byte buffer identified by id, with a dirty flag
// tracking whether its in-memory content has diverged from what is on
// disk. Offsets beyond zero are never used by this engine: every write
// replaces the whole payload.
type Page struct {
	ID    uint64
	Data  []byte
	Dirty bool
}

// NewPage returns an empty page with a zeroed payload buffer.
func NewPage(id uint64) *Page {
	return &Page{ID: id, Data: make([]byte, PayloadSize)}
}

// Write fills the payload with data, returning any overflow that did
// not fit so the caller can spill it into a following page. Marks the
// page dirty regardless of whether all of data fit.
func (p *Page) Write(data []byte) (remainder []byte) {
	p.Dirty = true
	if len(data) <= PayloadSize {
		copy(p.Data, data)
		for i := len(data); i < PayloadSize; i++ {
			p.Data[i] = 0
		}
		return nil
	}
	copy(p.Data, data[:PayloadSize])
	return data[PayloadSize:]
}
