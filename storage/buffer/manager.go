// Package buffer provides a usable interfaces.BufferManager: a
// single-threaded, fixed-capacity clock (second-chance) buffer pool over
// a raw page source. There is no latch or hash-bucket concurrency
// machinery here: this index is single-threaded by design, so pin
// bookkeeping is plain unsynchronized state.
package buffer

import (
	"fmt"

	"github.com/daview/sortedkv-bptree/interfaces"
	"go.uber.org/zap"
)

const pageSize = 1024

// pageSource is the raw fixed-size page I/O this pool caches in front of:
// content reads/writes plus id allocation, backed in practice by
// storage/store.Store.
type pageSource interface {
	ReadPage(pid interfaces.PageID) ([]byte, error)
	WritePage(pid interfaces.PageID, buf []byte) error
	AllocatePage(runSize int) (interfaces.PageID, error)
	DeallocatePage(pid interfaces.PageID, runSize int) error
}

type frame struct {
	buf      []byte
	pinCount int
	dirty    bool
	refBit   bool
}

// Manager implements interfaces.BufferManager with clock replacement.
type Manager struct {
	src      pageSource
	capacity int
	frames   map[interfaces.PageID]*frame
	order    []interfaces.PageID
	hand     int
	log      *zap.Logger
}

// NewManager builds a pool of the given frame capacity over src. capacity
// is clamped to at least 1.
func NewManager(src pageSource, capacity int, log *zap.Logger) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		src:      src,
		capacity: capacity,
		frames:   make(map[interfaces.PageID]*frame, capacity),
		log:      log,
	}
}

// Pin returns pid's frame, loading it from src on a miss, evicting a
// victim first if the pool is full.
func (m *Manager) Pin(pid interfaces.PageID) ([]byte, error) {
	if f, ok := m.frames[pid]; ok {
		f.pinCount++
		f.refBit = true
		return f.buf, nil
	}
	if len(m.frames) >= m.capacity {
		if err := m.evictOne(); err != nil {
			return nil, err
		}
	}
	buf, err := m.src.ReadPage(pid)
	if err != nil {
		return nil, fmt.Errorf("buffer: read page %d: %w", pid, err)
	}
	f := &frame{buf: buf, pinCount: 1, refBit: true}
	m.frames[pid] = f
	m.order = append(m.order, pid)
	return f.buf, nil
}

// Unpin releases one pin on pid.
func (m *Manager) Unpin(pid interfaces.PageID, dirty bool) error {
	f, ok := m.frames[pid]
	if !ok {
		return fmt.Errorf("buffer: unpin unknown page %d", pid)
	}
	if f.pinCount == 0 {
		return fmt.Errorf("buffer: unpin page %d: not pinned", pid)
	}
	f.pinCount--
	if dirty {
		f.dirty = true
	}
	return nil
}

// NewPage allocates a fresh page id from src and returns it pinned, with
// a zeroed frame.
func (m *Manager) NewPage() (interfaces.PageID, []byte, error) {
	pid, err := m.src.AllocatePage(1)
	if err != nil {
		return 0, nil, fmt.Errorf("buffer: allocate page: %w", err)
	}
	if len(m.frames) >= m.capacity {
		if err := m.evictOne(); err != nil {
			return 0, nil, err
		}
	}
	buf := make([]byte, pageSize)
	m.frames[pid] = &frame{buf: buf, pinCount: 1, dirty: true, refBit: true}
	m.order = append(m.order, pid)
	return pid, buf, nil
}

// FreePage releases pid back to src. It must not be pinned.
func (m *Manager) FreePage(pid interfaces.PageID) error {
	if f, ok := m.frames[pid]; ok {
		if f.pinCount > 0 {
			return fmt.Errorf("buffer: free page %d: still pinned", pid)
		}
		delete(m.frames, pid)
		m.removeFromOrder(pid)
	}
	return m.src.DeallocatePage(pid, 1)
}

// FlushPage writes pid back to src if it is cached and dirty.
func (m *Manager) FlushPage(pid interfaces.PageID) error {
	f, ok := m.frames[pid]
	if !ok || !f.dirty {
		return nil
	}
	if err := m.src.WritePage(pid, f.buf); err != nil {
		return fmt.Errorf("buffer: write page %d: %w", pid, err)
	}
	f.dirty = false
	return nil
}

// FlushAll flushes every dirty frame currently cached.
func (m *Manager) FlushAll() error {
	for pid := range m.frames {
		if err := m.FlushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeFromOrder(pid interfaces.PageID) {
	for i, p := range m.order {
		if p == pid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			if m.hand > i {
				m.hand--
			}
			return
		}
	}
}

// evictOne runs a clock sweep: unpinned frames with a clear reference bit
// are victims; a set reference bit is cleared and given a second chance.
func (m *Manager) evictOne() error {
	if len(m.order) == 0 {
		return fmt.Errorf("buffer: pool exhausted, all %d frames pinned", m.capacity)
	}
	limit := 2 * len(m.order)
	for step := 0; step < limit; step++ {
		if len(m.order) == 0 {
			return fmt.Errorf("buffer: pool exhausted, all %d frames pinned", m.capacity)
		}
		if m.hand >= len(m.order) {
			m.hand = 0
		}
		pid := m.order[m.hand]
		f := m.frames[pid]
		if f.pinCount > 0 {
			m.hand++
			continue
		}
		if f.refBit {
			f.refBit = false
			m.hand++
			continue
		}
		if f.dirty {
			if err := m.src.WritePage(pid, f.buf); err != nil {
				return fmt.Errorf("buffer: evict write page %d: %w", pid, err)
			}
		}
		delete(m.frames, pid)
		m.removeFromOrder(pid)
		m.log.Debug("evicted page", zap.Int32("pid", int32(pid)))
		return nil
	}
	return fmt.Errorf("buffer: pool exhausted, all %d frames pinned", m.capacity)
}
