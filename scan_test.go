package zedstore

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanEmptyAttribute(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(4)
	require.NoError(t, err)

	sc, err := tr.BeginScan(ZeroRID, nil)
	require.NoError(t, err)
	row, err := sc.Next()
	require.NoError(t, err)
	assert.Nil(t, row)

	// Still nothing on a second call.
	row, err = sc.Next()
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestScanFromOffset(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(2)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := tr.Insert([]byte{byte(i)}, nil)
		require.NoError(t, err)
	}

	sc, err := tr.BeginScan(RID{Block: 0, Off: 15}, nil)
	require.NoError(t, err)

	var rids []RID
	for {
		row, err := sc.Next()
		require.NoError(t, err)
		if row == nil {
			break
		}
		rids = append(rids, row.RID)
	}
	require.Len(t, rids, 6)
	assert.Equal(t, RID{Block: 0, Off: 15}, rids[0])
	assert.Equal(t, RID{Block: 0, Off: 20}, rids[5])
}

func TestCompressionTransparency(t *testing.T) {
	t.Parallel()

	db := setup(t, WithPageSize(512))
	tr, err := db.Attribute(2)
	require.NoError(t, err)

	// Highly compressible payloads so the compression pass actually
	// fires once leaves fill up.
	const n = 100
	want := make([][]byte, n)
	for i := 0; i < n; i++ {
		v := append(bytes.Repeat([]byte{byte(i % 3)}, 60), []byte(fmt.Sprintf("%04d", i))...)
		want[i] = v
		_, err := tr.Insert(v, nil)
		require.NoError(t, err)
	}

	rows := scanAll(t, tr, nil)
	require.Len(t, rows, n)
	for i, row := range rows {
		assert.Equal(t, RID{Block: 0, Off: uint16(i + 1)}, row.RID)
		assert.Equal(t, want[i], row.Value)
		assert.True(t, row.Visible, "non-first attributes are always visible")
	}

	// The sequence above must have produced at least one compressed run.
	compressed := 0
	for _, leaf := range verifyTree(t, tr) {
		for i := range leaf.Items {
			if leaf.Items[i].Compressed() {
				compressed++
			}
		}
	}
	assert.Greater(t, compressed, 0, "expected the compression pass to run")
}

func TestCompressionDisabled(t *testing.T) {
	t.Parallel()

	db := setup(t, WithPageSize(512), WithCompression(false))
	tr, err := db.Attribute(2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := tr.Insert(bytes.Repeat([]byte{7}, 60), nil)
		require.NoError(t, err)
	}
	for _, leaf := range verifyTree(t, tr) {
		for i := range leaf.Items {
			assert.False(t, leaf.Items[i].Compressed())
		}
	}
}

func TestDeleteHidesRow(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(1)
	require.NoError(t, err)

	var rids []RID
	for _, v := range []string{"one", "two", "three"} {
		rid, err := tr.Insert([]byte(v), header(5))
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	found, err := tr.Delete(rids[1], 9)
	require.NoError(t, err)
	assert.True(t, found)

	// A snapshot from before the delete still sees the row.
	before := scanAll(t, tr, SnapshotAt(8))
	require.Len(t, before, 3)
	for _, row := range before {
		assert.True(t, row.Visible)
	}

	after := scanAll(t, tr, SnapshotAt(10))
	require.Len(t, after, 3, "deleted rows are stamped, not removed")
	assert.True(t, after[0].Visible)
	assert.False(t, after[1].Visible)
	assert.True(t, after[2].Visible)
}

func TestDeleteMissingRow(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(1)
	require.NoError(t, err)

	// Empty attribute.
	found, err := tr.Delete(ZeroRID, 9)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = tr.Insert([]byte("x"), header(5))
	require.NoError(t, err)

	found, err = tr.Delete(RID{Block: 0, Off: 2}, 9)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteRejectsOtherAttributes(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(2)
	require.NoError(t, err)
	_, err = tr.Delete(ZeroRID, 9)
	assert.Error(t, err)
}

func TestDeleteInsideCompressedRun(t *testing.T) {
	t.Parallel()

	db := setup(t, WithPageSize(256))
	tr, err := db.Attribute(1)
	require.NoError(t, err)

	// Fill the first leaf with compressible rows until the compression
	// pass folds them into a run.
	for i := 0; i < 12; i++ {
		_, err := tr.Insert(bytes.Repeat([]byte{0}, 16), header(5))
		require.NoError(t, err)
	}
	compressed := false
	for _, leaf := range verifyTree(t, tr) {
		for i := range leaf.Items {
			if leaf.Items[i].Compressed() && leaf.Items[i].Covers(ZeroRID) {
				compressed = true
			}
		}
	}
	require.True(t, compressed, "first row should sit inside a compressed run")

	found, err := tr.Delete(ZeroRID, 9)
	assert.ErrorIs(t, err, ErrCompressedDelete)
	assert.False(t, found)
}

func TestScanFromInvalidOffset(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(2)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := tr.Insert([]byte{byte(i)}, nil)
		require.NoError(t, err)
	}

	// Offset 0 is invalid; it rounds up to the first row of its own
	// block rather than restarting the scan at the beginning.
	sc, err := tr.BeginScan(RID{Block: 0, Off: 0}, nil)
	require.NoError(t, err)
	row, err := sc.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, ZeroRID, row.RID)

	sc, err = tr.BeginScan(RID{Block: 5, Off: 0}, nil)
	require.NoError(t, err)
	row, err = sc.Next()
	require.NoError(t, err)
	assert.Nil(t, row, "all rows sit below block 5")
}

func TestScanDuringConcurrentInserts(t *testing.T) {
	t.Parallel()

	// Tiny pages so the writer splits leaves constantly while readers
	// hold cursors across the splits.
	db := setup(t, WithPageSize(256), WithCompression(false))
	tr, err := db.Attribute(2)
	require.NoError(t, err)

	const n = 2000
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if _, err := tr.Insert([]byte(fmt.Sprintf("%06d", i)), nil); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	// Scan repeatedly while the writer runs. A cursor holds no lock
	// between Next calls, so every scan overlaps in-flight splits; rows
	// must still come back in strictly increasing RID order with the
	// values they were inserted with.
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			rows := scanAll(t, tr, nil)
			require.Len(t, rows, n, "final scan must cover every insert")
			for i, row := range rows {
				require.Equal(t, RID{Block: 0, Off: uint16(i + 1)}, row.RID)
				require.Equal(t, fmt.Sprintf("%06d", i), string(row.Value))
			}
			return
		default:
		}

		sc, err := tr.BeginScan(ZeroRID, nil)
		require.NoError(t, err)
		prev := RID{}
		count := 0
		for {
			row, err := sc.Next()
			require.NoError(t, err)
			if row == nil {
				break
			}
			require.True(t, prev.Less(row.RID), "scan went backwards: %v after %v", row.RID, prev)
			require.Equal(t, RID{Block: 0, Off: uint16(count + 1)}, row.RID,
				"scan skipped or repeated a row")
			require.Equal(t, fmt.Sprintf("%06d", count), string(row.Value))
			prev = row.RID
			count++
		}
	}
}

func TestConcurrentInserts(t *testing.T) {
	t.Parallel()

	db := setup(t)
	tr, err := db.Attribute(2)
	require.NoError(t, err)

	const workers = 4
	const perWorker = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := tr.Insert([]byte{byte(w)}, nil); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows := scanAll(t, tr, nil)
	require.Len(t, rows, workers*perWorker)

	counts := make(map[byte]int)
	for i, row := range rows {
		assert.Equal(t, RID{Block: 0, Off: uint16(i + 1)}, row.RID, "RIDs are dense and unique")
		counts[row.Value[0]]++
	}
	for w := 0; w < workers; w++ {
		assert.Equal(t, perWorker, counts[byte(w)])
	}
}
