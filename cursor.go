package bptree

// Cursor is a per-page scan position over a KVPage's values in key
// order. It holds a single logical position (slot, value-within-record)
// plus whether that position has already been returned by Next/Prev
// (read) or is exhausted (done). A position that hasn't been read yet is
// "pending": the next call to Next returns it directly instead of
// advancing past it first. This lets OpenCursor, Search, and
// DeleteCurrent all share one representation instead of a hand-enumerated
// just-read/after-delete/exhausted state machine: DeleteCurrent simply
// leaves the deleted coordinates in place as a pending position, and the
// normalization step in Next walks forward past however many records or
// values that deletion removed.
type Cursor[V Value] struct {
	page *KVPage[V]
	slot int
	val  int
	read bool
	done bool
}

// normalizeForward walks (slot, val) forward past any slot whose value
// count it has fallen off the end of, which happens naturally after a
// deletion shrinks or removes the record currently pointed to. Returns
// false if no valid position remains.
func (c *Cursor[V]) normalizeForward() bool {
	p := c.page
	n := p.f.numSlots()
	if p.IsEmpty() {
		return false
	}
	for c.slot < n {
		if c.val < p.numValuesAt(c.slot) {
			return true
		}
		c.slot++
		c.val = 0
	}
	return false
}

// stepForward advances past the current (read) position to the next
// coordinate, without yet checking bounds.
func (c *Cursor[V]) stepForward() {
	c.val++
}

// Next advances the cursor and returns the next key/value pair in
// non-decreasing key order, or ok=false when exhausted.
func (c *Cursor[V]) Next() (ok bool, key string, val V) {
	var zero V
	if c.done {
		return false, "", zero
	}
	if c.read {
		c.stepForward()
	}
	if !c.normalizeForward() {
		c.done = true
		return false, "", zero
	}
	key = string(c.page.recordKeyAt(c.slot))
	val = c.page.valueAt(c.slot, c.val)
	c.read = true
	return true, key, val
}

// normalizeBackward walks (slot, val) backward to the last valid
// coordinate at or before the current one.
func (c *Cursor[V]) normalizeBackward() bool {
	p := c.page
	if p.IsEmpty() {
		return false
	}
	if n := p.f.numSlots(); c.slot >= n {
		c.slot, c.val = n-1, 1<<31-1
	}
	for {
		if c.slot < 0 {
			return false
		}
		nv := p.numValuesAt(c.slot)
		if nv == 0 {
			c.slot--
			continue
		}
		if c.val >= nv {
			c.val = nv - 1
		}
		if c.val < 0 {
			c.slot--
			c.val = 1<<31 - 1
			continue
		}
		return true
	}
}

// Prev retreats the cursor and returns the previous key/value pair, or
// ok=false when retreating past the first element.
func (c *Cursor[V]) Prev() (ok bool, key string, val V) {
	var zero V
	p := c.page
	if c.done {
		c.slot = p.f.numSlots() - 1
		c.val = 1<<31 - 1
	} else {
		c.val--
	}
	if !c.normalizeBackward() {
		c.done = false
		c.read = false
		c.slot, c.val = 0, 0
		return false, "", zero
	}
	key = string(p.recordKeyAt(c.slot))
	val = p.valueAt(c.slot, c.val)
	c.read = true
	c.done = false
	return true, key, val
}

// DeleteCurrent removes the value last returned by Next or Prev. The
// cursor is repositioned so that the following Next yields the element
// that would have followed the deleted one; "current" is invalid until
// another Next/Prev.
func (c *Cursor[V]) DeleteCurrent() error {
	if !c.read {
		return ErrInvalidArgument
	}
	c.page.deleteValueAt(c.slot, c.val)
	c.read = false
	c.done = false
	return nil
}
