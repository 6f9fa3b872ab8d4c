package bptree

import "encoding/binary"

// PageID addresses a fixed-size frame inside the paged store. The zero
// value is not special; InvalidPage is the sentinel "no such page".
type PageID int32

// InvalidPage denotes the absence of a page.
const InvalidPage PageID = -1

// RecordID names a record inside the store the tree indexes: the page it
// lives on and its slot within that page.
type RecordID struct {
	PageNo PageID
	SlotNo int32
}

// Value is the set of fixed-width types a sorted key-multivalue page can
// store: RecordID for leaf pages, PageID for index pages. Leaf and index
// pages share 100% of the slot layout and differ only in this width, so
// KVPage is parameterized over it instead of duplicating the page code.
type Value interface {
	RecordID | PageID
}

const (
	recordIDWidth = 8 // PageNo (4) + SlotNo (4)
	pageIDWidth   = 4
)

// widthOf returns the on-page byte width of V. Values are fixed-width, so
// this never depends on the actual value, only its type.
func widthOf[V Value]() int {
	var zero V
	switch any(zero).(type) {
	case RecordID:
		return recordIDWidth
	case PageID:
		return pageIDWidth
	default:
		panic("bptree: unsupported value type")
	}
}

func encodeValue[V Value](v V, dst []byte) {
	switch x := any(v).(type) {
	case RecordID:
		binary.LittleEndian.PutUint32(dst[0:4], uint32(x.PageNo))
		binary.LittleEndian.PutUint32(dst[4:8], uint32(x.SlotNo))
	case PageID:
		binary.LittleEndian.PutUint32(dst[0:4], uint32(x))
	default:
		panic("bptree: unsupported value type")
	}
}

func decodeValue[V Value](src []byte) V {
	var zero V
	switch any(zero).(type) {
	case RecordID:
		rid := RecordID{
			PageNo: PageID(binary.LittleEndian.Uint32(src[0:4])),
			SlotNo: int32(binary.LittleEndian.Uint32(src[4:8])),
		}
		return any(rid).(V)
	case PageID:
		pid := PageID(binary.LittleEndian.Uint32(src[0:4]))
		return any(pid).(V)
	default:
		panic("bptree: unsupported value type")
	}
}
