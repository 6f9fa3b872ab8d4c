package bptree

import (
	"fmt"
	"testing"

	"github.com/daview/sortedkv-bptree/storage/buffer"
	"github.com/daview/sortedkv-bptree/storage/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, name string, capacity int) *Tree {
	t.Helper()
	s, err := store.Open(afero.NewMemMapFs(), "/db", nil)
	require.NoError(t, err)
	bm := buffer.NewManager(s, capacity, nil)
	tr, err := Open(name, bm, s)
	require.NoError(t, err)
	return tr
}

func TestTreeInsertAndScanSingleLeaf(t *testing.T) {
	tr := newTestTree(t, "single-leaf", 16)
	for i := 1; i <= 59; i++ {
		key := fmt.Sprintf("%04d", i)
		require.NoError(t, tr.Insert(key, RecordID{PageNo: PageID(i), SlotNo: 0}))
	}

	sc, err := tr.OpenScan(nil, nil)
	require.NoError(t, err)
	count := 0
	prev := ""
	for {
		ok, k, _ := sc.Next()
		if !ok {
			break
		}
		if prev != "" {
			require.True(t, prev <= k, "scan must be sorted: %q then %q", prev, k)
		}
		prev = k
		count++
	}
	require.Equal(t, 59, count)
	require.NoError(t, sc.Close())
	require.NoError(t, tr.Close())
}

func TestTreeDuplicateKeyManyValues(t *testing.T) {
	tr := newTestTree(t, "dups", 16)
	const n = 124
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert("0003", RecordID{PageNo: PageID(i), SlotNo: int32(i)}))
	}

	sc, err := tr.OpenScan(strPtr("0003"), strPtr("0003"))
	require.NoError(t, err)
	seen := map[int32]bool{}
	count := 0
	for {
		ok, k, v := sc.Next()
		if !ok {
			break
		}
		require.Equal(t, "0003", k)
		seen[v.SlotNo] = true
		count++
	}
	require.Equal(t, n, count)
	require.Len(t, seen, n)
	require.NoError(t, sc.Close())
	require.NoError(t, tr.Close())
}

func TestTreeForcesLeafAndIndexSplits(t *testing.T) {
	tr := newTestTree(t, "big", 32)
	const n = 2000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		require.NoError(t, tr.Insert(key, RecordID{PageNo: PageID(i), SlotNo: 0}))
	}

	sc, err := tr.OpenScan(nil, nil)
	require.NoError(t, err)
	count := 0
	prev := ""
	for {
		ok, k, _ := sc.Next()
		if !ok {
			break
		}
		require.True(t, prev <= k)
		prev = k
		count++
	}
	require.Equal(t, n, count)
	require.NoError(t, sc.Close())

	whole, err := tr.PrintWhole()
	require.NoError(t, err)
	require.Contains(t, whole, "INDEX")
	require.NoError(t, tr.Close())
}

func TestTreeRangeScanBounds(t *testing.T) {
	tr := newTestTree(t, "range", 16)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("%04d", i)
		require.NoError(t, tr.Insert(key, RecordID{PageNo: PageID(i)}))
	}

	sc, err := tr.OpenScan(strPtr("0020"), strPtr("0030"))
	require.NoError(t, err)
	count := 0
	for {
		ok, k, _ := sc.Next()
		if !ok {
			break
		}
		require.True(t, k >= "0020" && k <= "0030")
		count++
	}
	require.Equal(t, 11, count)
	require.NoError(t, sc.Close())
	require.NoError(t, tr.Close())
}

func TestTreeScanDeleteCurrentRemovesEntry(t *testing.T) {
	tr := newTestTree(t, "scandelete", 16)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("%04d", i)
		require.NoError(t, tr.Insert(key, RecordID{PageNo: PageID(i)}))
	}

	sc, err := tr.OpenScan(nil, nil)
	require.NoError(t, err)
	for {
		ok, k, _ := sc.Next()
		if !ok {
			break
		}
		if k == "0010" {
			require.NoError(t, sc.DeleteCurrent())
		}
	}
	require.NoError(t, sc.Close())

	sc2, err := tr.OpenScan(nil, nil)
	require.NoError(t, err)
	count := 0
	for {
		ok, k, _ := sc2.Next()
		if !ok {
			break
		}
		require.NotEqual(t, "0010", k)
		count++
	}
	require.Equal(t, 19, count)
	require.NoError(t, sc2.Close())
	require.NoError(t, tr.Close())
}

func TestTreeDestroyEmptiesStoreAndIsIdempotentToReopen(t *testing.T) {
	s, err := store.Open(afero.NewMemMapFs(), "/db", nil)
	require.NoError(t, err)
	bm := buffer.NewManager(s, 16, nil)

	tr, err := Open("destroyme", bm, s)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Insert(fmt.Sprintf("k-%05d", i), RecordID{PageNo: PageID(i)}))
	}
	require.NoError(t, tr.Destroy())

	_, ok := s.GetFileEntry("destroyme")
	require.False(t, ok)

	tr2, err := Open("destroyme", bm, s)
	require.NoError(t, err)
	sc, err := tr2.OpenScan(nil, nil)
	require.NoError(t, err)
	ok2, _, _ := sc.Next()
	require.False(t, ok2)
	require.NoError(t, sc.Close())
	require.NoError(t, tr2.Close())
}

func TestTreeScanDeleteCurrentSurvivesFlushAndReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.Open(fs, "/db", nil)
	require.NoError(t, err)
	bm := buffer.NewManager(s, 16, nil)

	tr, err := Open("survive-flush", bm, s)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, tr.Insert(fmt.Sprintf("%04d", i), RecordID{PageNo: PageID(i)}))
	}
	// Write the inserts back first so the leaf is clean before the scan;
	// only the delete can make it dirty again.
	require.NoError(t, bm.FlushAll())

	sc, err := tr.OpenScan(nil, nil)
	require.NoError(t, err)
	for {
		ok, k, _ := sc.Next()
		if !ok {
			break
		}
		if k == "0010" {
			require.NoError(t, sc.DeleteCurrent())
		}
	}
	require.NoError(t, sc.Close())

	// Flushing every currently cached frame must write back the deleted
	// page; a leaf that the delete didn't mark dirty would be skipped here
	// and the stale pre-delete bytes would remain the durable copy.
	require.NoError(t, bm.FlushAll())
	require.NoError(t, tr.Close())

	// Reopen against the same store through a brand new, empty buffer
	// pool, so every page is read back from what was actually persisted.
	bm2 := buffer.NewManager(s, 16, nil)
	tr2, err := Open("survive-flush", bm2, s)
	require.NoError(t, err)

	sc2, err := tr2.OpenScan(nil, nil)
	require.NoError(t, err)
	count := 0
	for {
		ok, k, _ := sc2.Next()
		if !ok {
			break
		}
		require.NotEqual(t, "0010", k)
		count++
	}
	require.Equal(t, 19, count)
	require.NoError(t, sc2.Close())
	require.NoError(t, tr2.Close())
}

func strPtr(s string) *string { return &s }
