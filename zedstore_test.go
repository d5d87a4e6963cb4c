package zedstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := Open(path, opts...)
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// header returns an insert row header stamped by xid.
func header(xid uint64) *RowHeader {
	return &RowHeader{Xmin: xid}
}

// scanAll drains a fresh scan from the start of the attribute.
func scanAll(t *testing.T, tr *Tree, snap *Snapshot) []Row {
	t.Helper()
	sc, err := tr.BeginScan(ZeroRID, snap)
	require.NoError(t, err)

	var rows []Row
	for {
		row, err := sc.Next()
		require.NoError(t, err)
		if row == nil {
			return rows
		}
		rows = append(rows, *row)
	}
}

func TestInsertScanRoundtrip(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(1)
	require.NoError(t, err)

	for _, v := range []string{"alpha", "beta", "gamma"} {
		_, err := tr.Insert([]byte(v), header(5))
		require.NoError(t, err)
	}

	rows := scanAll(t, tr, SnapshotAt(10))
	require.Len(t, rows, 3)
	assert.Equal(t, RID{Block: 0, Off: 1}, rows[0].RID)
	assert.Equal(t, RID{Block: 0, Off: 2}, rows[1].RID)
	assert.Equal(t, RID{Block: 0, Off: 3}, rows[2].RID)
	for i, want := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, want, string(rows[i].Value))
		assert.True(t, rows[i].Visible)
	}
}

func TestInsertRequiresHeaderOnFirstAttribute(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(1)
	require.NoError(t, err)

	_, err = tr.Insert([]byte("x"), nil)
	assert.ErrorIs(t, err, ErrNoRowHeader)

	// Other attributes store bare values.
	tr2, err := db.Attribute(2)
	require.NoError(t, err)
	rid, err := tr2.Insert([]byte("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, ZeroRID, rid)
}

func TestAttributeZeroRejected(t *testing.T) {
	t.Parallel()

	db := setup(t)
	_, err := db.Attribute(0)
	assert.Error(t, err)
}

func TestValueTooLarge(t *testing.T) {
	t.Parallel()

	db := setup(t, WithPageSize(128))
	tr, err := db.Attribute(2)
	require.NoError(t, err)

	_, err = tr.Insert(make([]byte, 128), nil)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.db")
	db, err := Open(path)
	require.NoError(t, err)

	tr, err := db.Attribute(2)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := tr.Insert([]byte{byte('a' + i)}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	tr, err = db.Attribute(2)
	require.NoError(t, err)
	rows := scanAll(t, tr, nil)
	require.Len(t, rows, 10)
	for i, row := range rows {
		assert.Equal(t, []byte{byte('a' + i)}, row.Value)
	}

	// RID assignment resumes where it left off.
	last, err := tr.LastRID()
	require.NoError(t, err)
	assert.Equal(t, RID{Block: 0, Off: 11}, last)

	rid, err := tr.Insert([]byte("k"), nil)
	require.NoError(t, err)
	assert.Equal(t, RID{Block: 0, Off: 11}, rid)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yaml := "page_size: 512\ncache_size: 64\nsplit_ratio: 0.5\ncompression: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zedstore.yaml"), []byte(yaml), 0600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.PageSize)
	assert.Equal(t, 64, cfg.CacheSize)
	assert.Equal(t, 0.5, cfg.SplitRatio)
	assert.False(t, cfg.Compression)

	db, err := Open(filepath.Join(dir, "store.db"), cfg.Options()...)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
	assert.Equal(t, DefaultSplitRatio, cfg.SplitRatio)
	assert.True(t, cfg.Compression)
}
