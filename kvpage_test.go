package bptree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newLeaf(t *testing.T) *KVPage[RecordID] {
	t.Helper()
	buf := make([]byte, PageSize)
	p := NewKVPage[RecordID](buf)
	p.Init(1, NodeLeaf)
	return p
}

func newIndex(t *testing.T) *KVPage[PageID] {
	t.Helper()
	buf := make([]byte, PageSize)
	p := NewKVPage[PageID](buf)
	p.Init(1, NodeIndex)
	return p
}

func TestKVPageInsertAndFind(t *testing.T) {
	p := newLeaf(t)
	require.True(t, p.IsEmpty())

	require.NoError(t, p.Insert("b", RecordID{PageNo: 1, SlotNo: 0}))
	require.NoError(t, p.Insert("a", RecordID{PageNo: 1, SlotNo: 1}))
	require.NoError(t, p.Insert("c", RecordID{PageNo: 1, SlotNo: 2}))

	require.False(t, p.IsEmpty())
	minKey, err := p.GetMinKey()
	require.NoError(t, err)
	require.Equal(t, "a", minKey)
	maxKey, err := p.GetMaxKey()
	require.NoError(t, err)
	require.Equal(t, "c", maxKey)

	found := p.FindKey("b")
	require.Equal(t, FindFound, found.Result)
	require.Equal(t, RecordID{PageNo: 1, SlotNo: 0}, p.valueAt(found.Slot, 0))
}

func TestKVPageDuplicateValues(t *testing.T) {
	p := newLeaf(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Insert("0003", RecordID{PageNo: PageID(i), SlotNo: int32(i)}))
	}
	require.Equal(t, 5, p.CountValues("0003"))
	require.True(t, p.ContainsKey("0003"))
	require.False(t, p.ContainsKey("missing"))

	require.NoError(t, p.Delete("0003", RecordID{PageNo: 2, SlotNo: 2}))
	require.Equal(t, 4, p.CountValues("0003"))
}

func TestKVPageDeleteWholeRecord(t *testing.T) {
	p := newLeaf(t)
	require.NoError(t, p.Insert("k", RecordID{PageNo: 1, SlotNo: 1}))
	require.NoError(t, p.Delete("k", RecordID{PageNo: 1, SlotNo: 1}))
	require.True(t, p.IsEmpty())
	require.ErrorIs(t, p.Delete("k", RecordID{}), ErrNotFound)
}

func TestKVPageHasSpaceForAndNoSpace(t *testing.T) {
	p := newLeaf(t)
	count := 0
	for {
		key := fmt.Sprintf("key-%04d", count)
		if !p.HasSpaceFor(key) {
			break
		}
		require.NoError(t, p.Insert(key, RecordID{PageNo: PageID(count)}))
		count++
	}
	require.Greater(t, count, 0)
	err := p.Insert(fmt.Sprintf("key-%04d", count), RecordID{PageNo: PageID(count)})
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestKVPageInvalidKey(t *testing.T) {
	p := newLeaf(t)
	longKey := make([]byte, MaxKeyLength)
	for i := range longKey {
		longKey[i] = 'x'
	}
	require.ErrorIs(t, p.Insert(string(longKey), RecordID{}), ErrInvalidArgument)
	require.ErrorIs(t, p.Insert("has\x00nul", RecordID{}), ErrInvalidArgument)
}

func TestKVPageIndexPageValues(t *testing.T) {
	p := newIndex(t)
	require.NoError(t, p.Insert("m", PageID(10)))
	require.NoError(t, p.Insert("z", PageID(20)))
	found := p.FindKey("n")
	require.Equal(t, FindLessThan, found.Result)
	require.Equal(t, PageID(10), p.valueAt(found.Slot, 0))

	below := p.FindKey("a")
	require.Equal(t, FindBelowMin, below.Result)
}

func TestKVPageGetMaxKeyValue(t *testing.T) {
	p := newLeaf(t)
	_, _, err := p.GetMaxKeyValue()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Insert("a", RecordID{PageNo: 1, SlotNo: 0}))
	require.NoError(t, p.Insert("z", RecordID{PageNo: 2, SlotNo: 0}))
	require.NoError(t, p.Insert("z", RecordID{PageNo: 2, SlotNo: 1}))

	key, val, err := p.GetMaxKeyValue()
	require.NoError(t, err)
	require.Equal(t, "z", key)
	require.Equal(t, RecordID{PageNo: 2, SlotNo: 1}, val)
}

func TestKVPageDeleteAll(t *testing.T) {
	p := newLeaf(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Insert(fmt.Sprintf("k%02d", i), RecordID{PageNo: PageID(i)}))
	}
	require.False(t, p.IsEmpty())
	p.SetNextPage(7)
	p.SetPrevPage(3)

	p.DeleteAll()

	require.True(t, p.IsEmpty())
	require.Equal(t, 0, p.CountValues("k00"))
	require.Equal(t, PageID(7), p.NextPage())
	require.Equal(t, PageID(3), p.PrevPage())

	require.NoError(t, p.Insert("fresh", RecordID{PageNo: 9}))
	found := p.FindKey("fresh")
	require.Equal(t, FindFound, found.Result)
}

func TestKVPageSortedOrderMaintained(t *testing.T) {
	p := newLeaf(t)
	keys := []string{"m", "a", "z", "c", "k"}
	for _, k := range keys {
		require.NoError(t, p.Insert(k, RecordID{PageNo: 1}))
	}
	cur := p.OpenCursor()
	var seen []string
	for {
		ok, k, _ := cur.Next()
		if !ok {
			break
		}
		seen = append(seen, k)
	}
	require.Equal(t, []string{"a", "c", "k", "m", "z"}, seen)
}
