package store

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestStoreFileEntryRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, "/db", nil)
	require.NoError(t, err)

	_, ok := s.GetFileEntry("orders")
	require.False(t, ok)

	require.NoError(t, s.AddFileEntry("orders", 7))
	pid, ok := s.GetFileEntry("orders")
	require.True(t, ok)
	require.EqualValues(t, 7, pid)

	require.NoError(t, s.DeleteFileEntry("orders"))
	_, ok = s.GetFileEntry("orders")
	require.False(t, ok)
}

func TestStoreAllocateReusesFreedPages(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, "/db", nil)
	require.NoError(t, err)

	p0, err := s.AllocatePage(1)
	require.NoError(t, err)
	p1, err := s.AllocatePage(1)
	require.NoError(t, err)
	require.NotEqual(t, p0, p1)

	require.NoError(t, s.DeallocatePage(p0, 1))
	p2, err := s.AllocatePage(1)
	require.NoError(t, err)
	require.Equal(t, p0, p2)
}

func TestStoreReadWritePage(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, "/db", nil)
	require.NoError(t, err)

	pid, err := s.AllocatePage(1)
	require.NoError(t, err)

	buf := make([]byte, pageSize)
	buf[0] = 0xAB
	buf[pageSize-1] = 0xCD
	require.NoError(t, s.WritePage(pid, buf))

	read, err := s.ReadPage(pid)
	require.NoError(t, err)
	require.Equal(t, buf, read)
}

func TestStoreSurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open(fs, "/db", nil)
	require.NoError(t, err)
	require.NoError(t, s.AddFileEntry("idx", 42))
	require.NoError(t, s.Close())

	s2, err := Open(fs, "/db", nil)
	require.NoError(t, err)
	pid, ok := s2.GetFileEntry("idx")
	require.True(t, ok)
	require.EqualValues(t, 42, pid)
}
