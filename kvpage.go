package bptree

import "bytes"

// FindResult classifies the outcome of a key search on a single page.
type FindResult int

const (
	// FindBelowMin means every key on the page is greater than the
	// search key, or the page is empty: there is no key on this page
	// smaller than or equal to the argument.
	FindBelowMin FindResult = iota
	// FindLessThan means the key was not present, but Slot names the
	// greatest key strictly less than the argument.
	FindLessThan
	// FindFound means Slot names an exact match.
	FindFound
)

// FindOutcome is the result of locating a key on a page.
type FindOutcome struct {
	Result FindResult
	Slot   int
}

// KVPage is a sorted key-multivalue page: an ordered slot directory over
// a record area holding (key, value...) records, where values are fixed
// width V. Leaf pages instantiate it over RecordID, index pages over
// PageID; the two differ only in this type parameter and in how the
// page's PrevPage field is interpreted by the tree above it.
type KVPage[V Value] struct {
	f *frame
}

// NewKVPage wraps a pinned page's raw bytes for key-multivalue access.
// The caller is responsible for the pin; NewKVPage does not itself pin
// or unpin anything.
func NewKVPage[V Value](buf []byte) *KVPage[V] {
	return &KVPage[V]{f: wrapFrame(buf)}
}

func (p *KVPage[V]) valueWidth() int { return widthOf[V]() }

// Init resets the page to the empty state: one empty sentinel slot, the
// record area empty, and both chain pointers invalid.
func (p *KVPage[V]) Init(pid PageID, kind NodeType) {
	f := p.f
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.setPid(pid)
	f.setPageType(kind)
	f.setNumSlots(1)
	f.setFreePtr(0)
	f.setFreeSpace(DataSize - slotSize)
	f.setNextPage(InvalidPage)
	f.setPrevPage(InvalidPage)
	f.setSlotAt(0, 0, emptySlotLen)
}

func (p *KVPage[V]) PageID() PageID     { return p.f.pid() }
func (p *KVPage[V]) Type() NodeType     { return p.f.pageType() }
func (p *KVPage[V]) NextPage() PageID   { return p.f.nextPage() }
func (p *KVPage[V]) PrevPage() PageID   { return p.f.prevPage() }
func (p *KVPage[V]) SetNextPage(pid PageID) { p.f.setNextPage(pid) }
func (p *KVPage[V]) SetPrevPage(pid PageID) { p.f.setPrevPage(pid) }

// IsEmpty reports whether the page holds no records: exactly one slot,
// marked empty.
func (p *KVPage[V]) IsEmpty() bool {
	return p.f.numSlots() == 1 && p.f.slotEmpty(0)
}

func (p *KVPage[V]) numRecords() int {
	if p.IsEmpty() {
		return 0
	}
	return p.f.numSlots()
}

func validateKey(key string) error {
	if len(key) > MaxKeyLength-1 {
		return ErrInvalidArgument
	}
	if bytes.IndexByte([]byte(key), 0) >= 0 {
		return ErrInvalidArgument
	}
	return nil
}

// recordKeyAt returns the raw key bytes (without terminator) of the
// record at the given live slot index.
func (p *KVPage[V]) recordKeyAt(slotIdx int) []byte {
	offset, length := p.f.slotAt(slotIdx)
	rec := p.f.data()[offset : offset+length]
	nul := bytes.IndexByte(rec, 0)
	return rec[:nul]
}

func (p *KVPage[V]) numValuesAt(slotIdx int) int {
	if p.IsEmpty() {
		return 0
	}
	_, length := p.f.slotAt(slotIdx)
	keyLen := len(p.recordKeyAt(slotIdx))
	return (length - keyLen - 1) / p.valueWidth()
}

func (p *KVPage[V]) valueAt(slotIdx, valIdx int) V {
	offset, _ := p.f.slotAt(slotIdx)
	keyLen := len(p.recordKeyAt(slotIdx))
	w := p.valueWidth()
	start := offset + keyLen + 1 + valIdx*w
	return decodeValue[V](p.f.data()[start : start+w])
}

// findKey locates key among the page's live records.
func (p *KVPage[V]) findKey(key string) FindOutcome {
	if p.IsEmpty() {
		return FindOutcome{Result: FindBelowMin}
	}
	n := p.f.numSlots()
	for i := 0; i < n; i++ {
		k := p.recordKeyAt(i)
		c := bytes.Compare([]byte(key), k)
		switch {
		case c == 0:
			return FindOutcome{Result: FindFound, Slot: i}
		case c < 0:
			if i == 0 {
				return FindOutcome{Result: FindBelowMin}
			}
			return FindOutcome{Result: FindLessThan, Slot: i - 1}
		}
	}
	return FindOutcome{Result: FindLessThan, Slot: n - 1}
}

// FindKey is the exported form of findKey.
func (p *KVPage[V]) FindKey(key string) FindOutcome { return p.findKey(key) }

// availableSpace is the raw gap between the record area and the slot
// directory base.
func (p *KVPage[V]) availableSpace() int { return p.f.freeSpace() }

// HasSpaceFor reports whether a new value for key would fit: just the
// value width if key already has a record on this page (append), or
// keyLen+1+width plus a new slot otherwise.
func (p *KVPage[V]) HasSpaceFor(key string) bool {
	if len(key) > MaxKeyLength-1 {
		return false
	}
	if p.findKey(key).Result == FindFound {
		return p.availableSpace() >= p.valueWidth()
	}
	need := len(key) + 1 + p.valueWidth()
	if !p.IsEmpty() {
		need += slotSize
	}
	return p.availableSpace() >= need
}

// Insert adds value to key's record, creating the record if key is not
// yet present. Values within a key are unordered: a new value is always
// appended to the end of the record's current byte range. Fails without
// partial effect if there is no space.
func (p *KVPage[V]) Insert(key string, val V) error {
	if err := validateKey(key); err != nil {
		return err
	}
	found := p.findKey(key)
	if found.Result == FindFound {
		if p.availableSpace() < p.valueWidth() {
			return ErrNoSpace
		}
		p.appendValueToSlot(found.Slot, val)
		return nil
	}

	w := p.valueWidth()
	recLen := len(key) + 1 + w
	wasEmpty := p.IsEmpty()
	need := recLen
	if !wasEmpty {
		need += slotSize
	}
	if p.availableSpace() < need {
		return ErrNoSpace
	}

	rec := make([]byte, recLen)
	copy(rec, key)
	rec[len(key)] = 0
	encodeValue(val, rec[len(key)+1:])

	if wasEmpty {
		copy(p.f.data()[0:recLen], rec)
		p.f.setSlotAt(0, 0, recLen)
		p.f.setFreePtr(recLen)
		p.f.setFreeSpace(p.f.freeSpace() - recLen)
		return nil
	}

	insertAt := 0
	switch found.Result {
	case FindBelowMin:
		insertAt = 0
	case FindLessThan:
		insertAt = found.Slot + 1
	}

	offset := p.f.freePtr()
	copy(p.f.data()[offset:offset+recLen], rec)
	p.f.setFreePtr(offset + recLen)

	n := p.f.numSlots()
	for i := n; i > insertAt; i-- {
		o, l := p.f.slotAt(i - 1)
		p.f.setSlotAt(i, o, l)
	}
	p.f.setSlotAt(insertAt, offset, recLen)
	p.f.setNumSlots(n + 1)
	p.f.setFreeSpace(p.f.freeSpace() - recLen - slotSize)
	return nil
}

// appendValueToSlot grows the record at slotIdx by one value, shifting
// every byte physically after it and every slot whose offset lies after
// the target.
func (p *KVPage[V]) appendValueToSlot(slotIdx int, val V) {
	w := p.valueWidth()
	offset, length := p.f.slotAt(slotIdx)
	end := offset + length
	tail := p.f.freePtr() - end
	d := p.f.data()
	copy(d[end+w:end+w+tail], d[end:end+tail])
	encodeValue(val, d[end:end+w])

	n := p.f.numSlots()
	for i := 0; i < n; i++ {
		o, l := p.f.slotAt(i)
		if o > offset {
			p.f.setSlotAt(i, o+w, l)
		}
	}
	p.f.setSlotAt(slotIdx, offset, length+w)
	p.f.setFreePtr(p.f.freePtr() + w)
	p.f.setFreeSpace(p.f.freeSpace() - w)
}

// cutFromSlot removes length bytes at relOffset (relative to the
// record's start) from the record at slotIdx, shifting later bytes down
// and updating offsets.
func (p *KVPage[V]) cutFromSlot(slotIdx, relOffset, length int) {
	offset, slotLen := p.f.slotAt(slotIdx)
	cutStart := offset + relOffset
	d := p.f.data()
	tail := p.f.freePtr() - (cutStart + length)
	copy(d[cutStart:cutStart+tail], d[cutStart+length:cutStart+length+tail])

	n := p.f.numSlots()
	for i := 0; i < n; i++ {
		o, l := p.f.slotAt(i)
		if o > offset {
			p.f.setSlotAt(i, o-length, l)
		}
	}
	p.f.setSlotAt(slotIdx, offset, slotLen-length)
	p.f.setFreePtr(p.f.freePtr() - length)
	p.f.setFreeSpace(p.f.freeSpace() + length)
}

// deleteRecordAtSlot removes the whole record at slotIdx and compacts
// both the record area and the slot directory.
func (p *KVPage[V]) deleteRecordAtSlot(slotIdx int) {
	offset, length := p.f.slotAt(slotIdx)
	d := p.f.data()
	tail := p.f.freePtr() - (offset + length)
	copy(d[offset:offset+tail], d[offset+length:offset+length+tail])

	n := p.f.numSlots()
	for i := 0; i < n; i++ {
		if i == slotIdx {
			continue
		}
		o, l := p.f.slotAt(i)
		if o > offset {
			p.f.setSlotAt(i, o-length, l)
		}
	}
	p.f.setFreePtr(p.f.freePtr() - length)
	p.f.setFreeSpace(p.f.freeSpace() + length)

	for i := slotIdx; i < n-1; i++ {
		o, l := p.f.slotAt(i + 1)
		p.f.setSlotAt(i, o, l)
	}
	p.f.setNumSlots(n - 1)
	p.f.setFreeSpace(p.f.freeSpace() + slotSize)

	if p.f.numSlots() == 0 {
		p.f.setNumSlots(1)
		p.f.setFreePtr(0)
		p.f.setFreeSpace(DataSize - slotSize)
		p.f.setSlotAt(0, 0, emptySlotLen)
	}
}

// Delete removes a single value from key's record. If that was the only
// value, the whole record (and its slot) is removed.
func (p *KVPage[V]) Delete(key string, val V) error {
	found := p.findKey(key)
	if found.Result != FindFound {
		return ErrNotFound
	}
	n := p.numValuesAt(found.Slot)
	if n == 1 {
		if p.valueAt(found.Slot, 0) != val {
			return ErrNotFound
		}
		p.deleteRecordAtSlot(found.Slot)
		return nil
	}
	for i := 0; i < n; i++ {
		if p.valueAt(found.Slot, i) == val {
			p.deleteValueAt(found.Slot, i)
			return nil
		}
	}
	return ErrNotFound
}

// deleteValueAt removes the value at the given position directly,
// without re-locating it by value. Used by the cursor, where the
// position being deleted is already known exactly and re-matching by
// value would be ambiguous for duplicate values within one key (values
// within a key are unordered, per spec).
func (p *KVPage[V]) deleteValueAt(slotIdx, valIdx int) {
	if p.numValuesAt(slotIdx) == 1 {
		p.deleteRecordAtSlot(slotIdx)
		return
	}
	keyLen := len(p.recordKeyAt(slotIdx))
	w := p.valueWidth()
	p.cutFromSlot(slotIdx, keyLen+1+valIdx*w, w)
}

// DeleteKey removes an entire record and compacts the slot array.
func (p *KVPage[V]) DeleteKey(key string) error {
	found := p.findKey(key)
	if found.Result != FindFound {
		return ErrNotFound
	}
	p.deleteRecordAtSlot(found.Slot)
	return nil
}

// DeleteAll resets the page to its initial empty state, preserving its
// identity and chain pointers.
func (p *KVPage[V]) DeleteAll() {
	p.f.setNumSlots(1)
	p.f.setFreePtr(0)
	p.f.setFreeSpace(DataSize - slotSize)
	p.f.setSlotAt(0, 0, emptySlotLen)
}

// GetMinKey returns the smallest key on the page.
func (p *KVPage[V]) GetMinKey() (string, error) {
	if p.IsEmpty() {
		return "", ErrNotFound
	}
	return string(p.recordKeyAt(0)), nil
}

// GetMinKeyValue returns the smallest key and its first value.
func (p *KVPage[V]) GetMinKeyValue() (string, V, error) {
	var zero V
	if p.IsEmpty() {
		return "", zero, ErrNotFound
	}
	return string(p.recordKeyAt(0)), p.valueAt(0, 0), nil
}

// GetMaxKey returns the largest key on the page.
func (p *KVPage[V]) GetMaxKey() (string, error) {
	if p.IsEmpty() {
		return "", ErrNotFound
	}
	return string(p.recordKeyAt(p.f.numSlots() - 1)), nil
}

// GetMaxKeyValue returns the largest key and its last value.
func (p *KVPage[V]) GetMaxKeyValue() (string, V, error) {
	var zero V
	if p.IsEmpty() {
		return "", zero, ErrNotFound
	}
	last := p.f.numSlots() - 1
	nv := p.numValuesAt(last)
	return string(p.recordKeyAt(last)), p.valueAt(last, nv-1), nil
}

// CountValues returns the number of values stored for key on this page.
func (p *KVPage[V]) CountValues(key string) int {
	found := p.findKey(key)
	if found.Result != FindFound {
		return 0
	}
	return p.numValuesAt(found.Slot)
}

// ContainsKey reports whether key has at least one value on this page.
func (p *KVPage[V]) ContainsKey(key string) bool {
	return p.findKey(key).Result == FindFound
}

// OpenCursor returns a cursor positioned before the first key.
func (p *KVPage[V]) OpenCursor() *Cursor[V] {
	return &Cursor[V]{page: p, slot: 0, val: 0}
}

// Search positions cur so that the next read returns the exact match for
// key if present, otherwise the first value of the largest key <= key.
// If every key exceeds key (or the page is empty), cur behaves as if
// freshly opened.
func (p *KVPage[V]) Search(key string, cur *Cursor[V]) FindResult {
	found := p.findKey(key)
	cur.page = p
	cur.done = false
	cur.read = false
	switch found.Result {
	case FindFound, FindLessThan:
		cur.slot, cur.val = found.Slot, 0
	case FindBelowMin:
		cur.slot, cur.val = 0, 0
	}
	return found.Result
}
