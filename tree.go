package bptree

import (
	"fmt"
	"strings"

	"github.com/daview/sortedkv-bptree/interfaces"
	"go.uber.org/zap"
)

func toIfacePid(p PageID) interfaces.PageID   { return interfaces.PageID(p) }
func fromIfacePid(p interfaces.PageID) PageID { return PageID(p) }

// Tree is a disk-backed B+-tree index mapping variable-length string
// keys to RecordIDs, built on KVPage's sorted key-multivalue page
// format and mediated entirely through a BufferManager/PagedStore pair
// supplied by the caller. These are external collaborators; storage/buffer
// and storage/store provide usable implementations.
type Tree struct {
	name      string
	bufMgr    interfaces.BufferManager
	store     interfaces.PagedStore
	headerPid PageID
	header    *HeaderPage
	log       *zap.Logger
}

// Option configures Open.
type Option func(*treeOptions)

type treeOptions struct {
	logger *zap.Logger
}

// WithLogger overrides the package default logger for this tree.
func WithLogger(l *zap.Logger) Option {
	return func(o *treeOptions) { o.logger = l }
}

// Open resolves or creates the named index file, allocating and
// initializing a header page if the name is new, and pins the header
// for the tree's lifetime.
func Open(name string, bufMgr interfaces.BufferManager, store interfaces.PagedStore, opts ...Option) (*Tree, error) {
	cfg := treeOptions{logger: defaultLogger}
	for _, o := range opts {
		o(&cfg)
	}

	headerPid, ok := store.GetFileEntry(name)
	if !ok {
		pid, buf, err := bufMgr.NewPage()
		if err != nil {
			return nil, wrapBufMgrErr("NewPage", InvalidPage, err)
		}
		hp := NewHeaderPage(buf)
		hp.Init()
		if err := bufMgr.Unpin(pid, true); err != nil {
			return nil, wrapBufMgrErr("Unpin", fromIfacePid(pid), err)
		}
		if err := store.AddFileEntry(name, pid); err != nil {
			return nil, err
		}
		headerPid = pid
	}

	buf, err := bufMgr.Pin(headerPid)
	if err != nil {
		return nil, wrapBufMgrErr("Pin", fromIfacePid(headerPid), err)
	}

	t := &Tree{
		name:      name,
		bufMgr:    bufMgr,
		store:     store,
		headerPid: fromIfacePid(headerPid),
		header:    NewHeaderPage(buf),
		log:       cfg.logger,
	}
	t.log.Debug("tree opened", zap.String("name", name), zap.Int32("header_pid", int32(t.headerPid)))
	return t, nil
}

// Close unpins the header page, dirty.
func (t *Tree) Close() error {
	if err := t.bufMgr.Unpin(toIfacePid(t.headerPid), true); err != nil {
		return wrapBufMgrErr("Unpin", t.headerPid, err)
	}
	t.log.Debug("tree closed", zap.String("name", t.name))
	return nil
}

// Destroy frees every page reachable from the root in post-order, then
// the root itself, then unpins and frees the header page and deletes the
// file entry. If the tree is empty there are no pages to walk; the header
// and file entry are still released.
func (t *Tree) Destroy() error {
	root := t.header.RootPageID()
	if root != InvalidPage {
		if err := t.destroyChildren(root); err != nil {
			return err
		}
		if err := t.bufMgr.FreePage(toIfacePid(root)); err != nil {
			return wrapBufMgrErr("FreePage", root, err)
		}
	}
	t.header.SetRootPageID(InvalidPage)
	if err := t.bufMgr.Unpin(toIfacePid(t.headerPid), true); err != nil {
		return wrapBufMgrErr("Unpin", t.headerPid, err)
	}
	if err := t.bufMgr.FreePage(toIfacePid(t.headerPid)); err != nil {
		return wrapBufMgrErr("FreePage", t.headerPid, err)
	}
	t.log.Debug("tree destroyed", zap.String("name", t.name))
	return t.store.DeleteFileEntry(t.name)
}

// destroyChildren pins pid; if it is an index page, it recurses into
// every child (leftmost pointer plus every record's value), freeing each
// child immediately after its own subtree has been destroyed. Leaf pages
// do nothing further: the caller frees them.
func (t *Tree) destroyChildren(pid PageID) error {
	buf, err := t.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return wrapBufMgrErr("Pin", pid, err)
	}
	nt := wrapFrame(buf).pageType()
	if nt != NodeIndex {
		if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
			return wrapBufMgrErr("Unpin", pid, err)
		}
		return nil
	}

	idx := NewKVPage[PageID](buf)
	children := []PageID{idx.PrevPage()}
	cur := idx.OpenCursor()
	for {
		ok, _, child := cur.Next()
		if !ok {
			break
		}
		children = append(children, child)
	}
	if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
		return wrapBufMgrErr("Unpin", pid, err)
	}

	for _, child := range children {
		if err := t.destroyChildren(child); err != nil {
			return err
		}
		if err := t.bufMgr.FreePage(toIfacePid(child)); err != nil {
			return wrapBufMgrErr("FreePage", child, err)
		}
	}
	return nil
}

// childFor returns the child pointer an index page's descent rule
// selects for key: the leftmost-child pointer if every on-page key
// exceeds key, otherwise the value at the matched/largest-lesser slot.
func (t *Tree) childFor(idx *KVPage[PageID], key string) PageID {
	found := idx.FindKey(key)
	if found.Result == FindBelowMin {
		return idx.PrevPage()
	}
	return idx.valueAt(found.Slot, 0)
}

// descendToLeaf walks from the root to the leaf that would contain key.
func (t *Tree) descendToLeaf(key string) (PageID, error) {
	pid := t.header.RootPageID()
	if pid == InvalidPage {
		return InvalidPage, ErrNotFound
	}
	for {
		buf, err := t.bufMgr.Pin(toIfacePid(pid))
		if err != nil {
			return InvalidPage, wrapBufMgrErr("Pin", pid, err)
		}
		nt := wrapFrame(buf).pageType()
		if nt == NodeLeaf {
			if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
				return InvalidPage, wrapBufMgrErr("Unpin", pid, err)
			}
			return pid, nil
		}
		idx := NewKVPage[PageID](buf)
		next := t.childFor(idx, key)
		if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
			return InvalidPage, wrapBufMgrErr("Unpin", pid, err)
		}
		pid = next
	}
}

// leftmostLeaf walks from the root via leftmost-child pointers.
func (t *Tree) leftmostLeaf() (PageID, error) {
	pid := t.header.RootPageID()
	if pid == InvalidPage {
		return InvalidPage, ErrNotFound
	}
	for {
		buf, err := t.bufMgr.Pin(toIfacePid(pid))
		if err != nil {
			return InvalidPage, wrapBufMgrErr("Pin", pid, err)
		}
		nt := wrapFrame(buf).pageType()
		if nt == NodeLeaf {
			if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
				return InvalidPage, wrapBufMgrErr("Unpin", pid, err)
			}
			return pid, nil
		}
		idx := NewKVPage[PageID](buf)
		next := idx.PrevPage()
		if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
			return InvalidPage, wrapBufMgrErr("Unpin", pid, err)
		}
		pid = next
	}
}

// minKeyOf returns the smallest key on the page at pid, whatever its
// node kind.
func (t *Tree) minKeyOf(pid PageID) (string, error) {
	buf, err := t.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return "", wrapBufMgrErr("Pin", pid, err)
	}
	defer t.bufMgr.Unpin(toIfacePid(pid), false)
	if wrapFrame(buf).pageType() == NodeLeaf {
		return NewKVPage[RecordID](buf).GetMinKey()
	}
	return NewKVPage[PageID](buf).GetMinKey()
}

// splitResult is what a recursive insert step threads back up to its
// caller: either the insert fit cleanly, or the child split and must be
// promoted into this frame's parent.
type splitResult struct {
	split    bool
	key      string
	rightPid PageID
}

// Insert adds one key -> rid pair. Both key and full (key, rid) pair
// duplicates are allowed. If the tree is empty, the first leaf (and
// therefore the root) is created here.
func (t *Tree) Insert(key string, rid RecordID) error {
	if err := validateKey(key); err != nil {
		return err
	}

	root := t.header.RootPageID()
	if root == InvalidPage {
		pid, buf, err := t.bufMgr.NewPage()
		if err != nil {
			return wrapBufMgrErr("NewPage", InvalidPage, err)
		}
		leaf := NewKVPage[RecordID](buf)
		leaf.Init(fromIfacePid(pid), NodeLeaf)
		if err := leaf.Insert(key, rid); err != nil {
			t.bufMgr.Unpin(pid, false)
			return err
		}
		if err := t.bufMgr.Unpin(pid, true); err != nil {
			return wrapBufMgrErr("Unpin", fromIfacePid(pid), err)
		}
		t.header.SetRootPageID(fromIfacePid(pid))
		t.log.Debug("created root leaf", zap.Int32("pid", int32(fromIfacePid(pid))))
		return nil
	}

	res, err := t.insertInto(root, key, rid)
	if err != nil {
		return err
	}
	if res.split {
		return t.growRoot(root, res.key, res.rightPid)
	}
	return nil
}

// growRoot builds a fresh index root over the old root and the page that
// split off it. The same shape handles both cases: the old root may have
// been a leaf or an index page.
func (t *Tree) growRoot(oldRoot PageID, promotedKey string, rightPid PageID) error {
	pid, buf, err := t.bufMgr.NewPage()
	if err != nil {
		return wrapBufMgrErr("NewPage", InvalidPage, err)
	}
	newRootPid := fromIfacePid(pid)
	newRoot := NewKVPage[PageID](buf)
	newRoot.Init(newRootPid, NodeIndex)

	oldMinKey, err := t.minKeyOf(oldRoot)
	if err != nil {
		t.bufMgr.Unpin(pid, false)
		return err
	}
	if err := newRoot.Insert(oldMinKey, oldRoot); err != nil {
		t.bufMgr.Unpin(pid, false)
		return err
	}
	if err := newRoot.Insert(promotedKey, rightPid); err != nil {
		t.bufMgr.Unpin(pid, false)
		return err
	}

	firstKey, firstVal, err := newRoot.GetMinKeyValue()
	if err != nil {
		t.bufMgr.Unpin(pid, false)
		return err
	}
	if err := newRoot.DeleteKey(firstKey); err != nil {
		t.bufMgr.Unpin(pid, false)
		return err
	}
	newRoot.SetPrevPage(firstVal)

	if err := t.bufMgr.Unpin(pid, true); err != nil {
		return wrapBufMgrErr("Unpin", newRootPid, err)
	}
	t.header.SetRootPageID(newRootPid)
	t.log.Debug("root split", zap.Int32("new_root", int32(newRootPid)),
		zap.Int32("left", int32(oldRoot)), zap.Int32("right", int32(rightPid)))
	return nil
}

// insertInto is the recursive descent-and-insert step. It pins pid for
// its whole duration and always unpins it on every return path.
func (t *Tree) insertInto(pid PageID, key string, rid RecordID) (splitResult, error) {
	buf, err := t.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return splitResult{}, wrapBufMgrErr("Pin", pid, err)
	}
	nt := wrapFrame(buf).pageType()

	if nt == NodeLeaf {
		leaf := NewKVPage[RecordID](buf)
		if err := leaf.Insert(key, rid); err == nil {
			if err := t.bufMgr.Unpin(toIfacePid(pid), true); err != nil {
				return splitResult{}, wrapBufMgrErr("Unpin", pid, err)
			}
			return splitResult{}, nil
		} else if err != ErrNoSpace {
			t.bufMgr.Unpin(toIfacePid(pid), false)
			return splitResult{}, err
		}
		return t.splitLeafAndInsert(pid, leaf, key, rid)
	}

	idx := NewKVPage[PageID](buf)
	childPid := t.childFor(idx, key)
	childRes, err := t.insertInto(childPid, key, rid)
	if err != nil {
		t.bufMgr.Unpin(toIfacePid(pid), false)
		return splitResult{}, err
	}
	if !childRes.split {
		if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
			return splitResult{}, wrapBufMgrErr("Unpin", pid, err)
		}
		return splitResult{}, nil
	}

	if err := idx.Insert(childRes.key, childRes.rightPid); err == nil {
		if err := t.bufMgr.Unpin(toIfacePid(pid), true); err != nil {
			return splitResult{}, wrapBufMgrErr("Unpin", pid, err)
		}
		return splitResult{}, nil
	} else if err != ErrNoSpace {
		t.bufMgr.Unpin(toIfacePid(pid), false)
		return splitResult{}, err
	}
	return t.splitIndexAndInsert(pid, idx, childRes.key, childRes.rightPid)
}

func (t *Tree) splitLeafAndInsert(pid PageID, old *KVPage[RecordID], key string, rid RecordID) (splitResult, error) {
	newPid, newBuf, err := t.bufMgr.NewPage()
	if err != nil {
		t.bufMgr.Unpin(toIfacePid(pid), false)
		return splitResult{}, wrapBufMgrErr("NewPage", InvalidPage, err)
	}
	newLeaf := NewKVPage[RecordID](newBuf)
	newLeaf.Init(fromIfacePid(newPid), NodeLeaf)

	promoted, err := splitLeaf(old, newLeaf, key, rid)
	if err != nil {
		t.bufMgr.Unpin(toIfacePid(pid), true)
		t.bufMgr.Unpin(newPid, true)
		return splitResult{}, err
	}

	if oldNext := newLeaf.NextPage(); oldNext != InvalidPage {
		if err := t.relinkPrev(oldNext, newLeaf.PageID()); err != nil {
			t.bufMgr.Unpin(toIfacePid(pid), true)
			t.bufMgr.Unpin(newPid, true)
			return splitResult{}, err
		}
	}

	if err := t.bufMgr.Unpin(toIfacePid(pid), true); err != nil {
		return splitResult{}, wrapBufMgrErr("Unpin", pid, err)
	}
	if err := t.bufMgr.Unpin(newPid, true); err != nil {
		return splitResult{}, wrapBufMgrErr("Unpin", fromIfacePid(newPid), err)
	}
	t.log.Debug("leaf split", zap.Int32("left", int32(pid)),
		zap.Int32("right", int32(fromIfacePid(newPid))), zap.String("promoted_key", promoted))
	return splitResult{split: true, key: promoted, rightPid: fromIfacePid(newPid)}, nil
}

func (t *Tree) splitIndexAndInsert(pid PageID, old *KVPage[PageID], key string, child PageID) (splitResult, error) {
	newPid, newBuf, err := t.bufMgr.NewPage()
	if err != nil {
		t.bufMgr.Unpin(toIfacePid(pid), false)
		return splitResult{}, wrapBufMgrErr("NewPage", InvalidPage, err)
	}
	newIdx := NewKVPage[PageID](newBuf)
	newIdx.Init(fromIfacePid(newPid), NodeIndex)

	promoted, err := splitIndex(old, newIdx, key, child)
	if err != nil {
		t.bufMgr.Unpin(toIfacePid(pid), true)
		t.bufMgr.Unpin(newPid, true)
		return splitResult{}, err
	}

	if err := t.bufMgr.Unpin(toIfacePid(pid), true); err != nil {
		return splitResult{}, wrapBufMgrErr("Unpin", pid, err)
	}
	if err := t.bufMgr.Unpin(newPid, true); err != nil {
		return splitResult{}, wrapBufMgrErr("Unpin", fromIfacePid(newPid), err)
	}
	t.log.Debug("index split", zap.Int32("left", int32(pid)),
		zap.Int32("right", int32(fromIfacePid(newPid))), zap.String("promoted_key", promoted))
	return splitResult{split: true, key: promoted, rightPid: fromIfacePid(newPid)}, nil
}

// relinkPrev pins pid just to fix its prevPage after a leaf split
// spliced it between old and new.
func (t *Tree) relinkPrev(pid PageID, newPrev PageID) error {
	buf, err := t.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return wrapBufMgrErr("Pin", pid, err)
	}
	NewKVPage[RecordID](buf).SetPrevPage(newPrev)
	if err := t.bufMgr.Unpin(toIfacePid(pid), true); err != nil {
		return wrapBufMgrErr("Unpin", pid, err)
	}
	return nil
}

// splitLeaf implements the leaf-split algorithm: move every entry to
// newLeaf, then move entries back to oldLeaf in key order until free
// space is balanced, inserting (key, rid) into whichever side the walk
// reaches it on.
func splitLeaf(old, new *KVPage[RecordID], key string, rid RecordID) (string, error) {
	if err := moveAllPairs[RecordID](old, new); err != nil {
		return "", err
	}

	inserted := false
	cur := new.OpenCursor()
	ok, curKey, curVal := cur.Next()
	for old.availableSpace() > new.availableSpace() {
		if !ok {
			break
		}
		if !inserted && curKey > key {
			if err := old.Insert(key, rid); err != nil {
				return "", err
			}
			inserted = true
			continue
		}
		if err := old.Insert(curKey, curVal); err != nil {
			return "", err
		}
		if err := cur.DeleteCurrent(); err != nil {
			return "", err
		}
		ok, curKey, curVal = cur.Next()
	}
	if !inserted {
		if err := new.Insert(key, rid); err != nil {
			return "", err
		}
	}

	oldNext := old.NextPage()
	old.SetNextPage(new.PageID())
	new.SetPrevPage(old.PageID())
	if oldNext != InvalidPage {
		new.SetNextPage(oldNext)
	} else {
		new.SetNextPage(InvalidPage)
	}

	return new.GetMinKey()
}

// splitIndex implements the index-split algorithm: same balancing walk
// as splitLeaf, then the new page's minimum entry is promoted out into
// its leftmost-child pointer.
func splitIndex(old, new *KVPage[PageID], key string, child PageID) (string, error) {
	if err := moveAllPairs[PageID](old, new); err != nil {
		return "", err
	}

	inserted := false
	cur := new.OpenCursor()
	ok, curKey, curVal := cur.Next()
	for old.availableSpace() > new.availableSpace() {
		if !ok {
			break
		}
		if !inserted && curKey > key {
			if err := old.Insert(key, child); err != nil {
				return "", err
			}
			inserted = true
			continue
		}
		if err := old.Insert(curKey, curVal); err != nil {
			return "", err
		}
		if err := cur.DeleteCurrent(); err != nil {
			return "", err
		}
		ok, curKey, curVal = cur.Next()
	}
	if !inserted {
		if err := new.Insert(key, child); err != nil {
			return "", err
		}
	}

	k0, p0, err := new.GetMinKeyValue()
	if err != nil {
		return "", err
	}
	new.SetPrevPage(p0)
	if err := new.DeleteKey(k0); err != nil {
		return "", err
	}
	return k0, nil
}

// moveAllPairs transfers every (key, value) pair from src to dst,
// preserving order, leaving src empty. Both pages are the same size and
// kind, so a full page's contents are always guaranteed to fit in an
// empty one.
func moveAllPairs[V Value](src, dst *KVPage[V]) error {
	cur := src.OpenCursor()
	for {
		ok, k, v := cur.Next()
		if !ok {
			break
		}
		if err := dst.Insert(k, v); err != nil {
			return err
		}
		if err := cur.DeleteCurrent(); err != nil {
			return err
		}
	}
	return nil
}

// PrintTree renders the subtree rooted at pid for diagnostics.
func (t *Tree) PrintTree(pid PageID) (string, error) {
	var sb strings.Builder
	if err := t.printTree(pid, &sb, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// PrintWhole renders the whole tree for diagnostics.
func (t *Tree) PrintWhole() (string, error) {
	root := t.header.RootPageID()
	if root == InvalidPage {
		return "", ErrNotFound
	}
	return t.PrintTree(root)
}

func (t *Tree) printTree(pid PageID, sb *strings.Builder, depth int) error {
	buf, err := t.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return wrapBufMgrErr("Pin", pid, err)
	}
	indent := strings.Repeat("  ", depth)
	nt := wrapFrame(buf).pageType()

	if nt == NodeIndex {
		idx := NewKVPage[PageID](buf)
		fmt.Fprintf(sb, "%spage %d INDEX leftmost=%d free=%d\n", indent, pid, idx.PrevPage(), idx.availableSpace())
		children := []PageID{idx.PrevPage()}
		cur := idx.OpenCursor()
		for {
			ok, k, v := cur.Next()
			if !ok {
				break
			}
			fmt.Fprintf(sb, "%s  sep %q -> page %d\n", indent, k, v)
			children = append(children, v)
		}
		if err := t.bufMgr.Unpin(toIfacePid(pid), false); err != nil {
			return wrapBufMgrErr("Unpin", pid, err)
		}
		for _, c := range children {
			if err := t.printTree(c, sb, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	leaf := NewKVPage[RecordID](buf)
	fmt.Fprintf(sb, "%spage %d LEAF prev=%d next=%d free=%d\n", indent, pid, leaf.PrevPage(), leaf.NextPage(), leaf.availableSpace())
	cur := leaf.OpenCursor()
	for {
		ok, k, v := cur.Next()
		if !ok {
			break
		}
		fmt.Fprintf(sb, "%s  %q -> (%d,%d)\n", indent, k, v.PageNo, v.SlotNo)
	}
	return t.bufMgr.Unpin(toIfacePid(pid), false)
}
