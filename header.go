package bptree

import "encoding/binary"

// HeaderPage is the dedicated one-record page whose first bytes hold the
// current root page id. It is pinned for the tree's whole lifetime and
// unpinned on close.
type HeaderPage struct {
	f *frame
}

func NewHeaderPage(buf []byte) *HeaderPage {
	return &HeaderPage{f: wrapFrame(buf)}
}

// Init sets the header to point at no root.
func (h *HeaderPage) Init() {
	for i := range h.f.buf {
		h.f.buf[i] = 0
	}
	h.SetRootPageID(InvalidPage)
}

func (h *HeaderPage) RootPageID() PageID {
	return PageID(int32(binary.LittleEndian.Uint32(h.f.buf[0:4])))
}

func (h *HeaderPage) SetRootPageID(pid PageID) {
	binary.LittleEndian.PutUint32(h.f.buf[0:4], uint32(pid))
}
