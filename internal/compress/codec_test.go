package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zedstore/internal/base"
)

func TestBatchRoundtrip(t *testing.T) {
	t.Parallel()

	items := []base.Item{
		base.PlainItem(base.RID{Block: 0, Off: 1}, bytes.Repeat([]byte("a"), 40)),
		base.PlainItem(base.RID{Block: 0, Off: 2}, bytes.Repeat([]byte("b"), 40)),
		base.PlainItem(base.RID{Block: 0, Off: 3}, []byte("short")),
	}

	b := NewBatch(4096)
	for i := range items {
		require.True(t, b.Add(&items[i]))
	}
	assert.Equal(t, 3, b.Len())

	run, err := b.Finish()
	require.NoError(t, err)
	assert.True(t, run.Compressed())
	assert.Equal(t, base.RID{Block: 0, Off: 1}, run.First)
	assert.Equal(t, base.RID{Block: 0, Off: 3}, run.Last)
	assert.Equal(t, 0, b.Len())

	r, err := Decode(&run)
	require.NoError(t, err)
	for i := range items {
		got, err := r.Next()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, items[i].First, got.First)
		assert.Equal(t, items[i].Payload, got.Payload)
	}
	got, err := r.Next()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBatchRejectsCompressed(t *testing.T) {
	t.Parallel()

	run := base.Item{
		First:   base.ZeroRID,
		Last:    base.RID{Block: 0, Off: 5},
		Flags:   base.ItemCompressed,
		Payload: []byte{1, 2, 3},
	}
	b := NewBatch(4096)
	assert.False(t, b.Add(&run))
	assert.Equal(t, 0, b.Len())
}

func TestBatchRejectsOversized(t *testing.T) {
	t.Parallel()

	big := base.PlainItem(base.ZeroRID, make([]byte, 200))
	b := NewBatch(128)
	assert.False(t, b.Add(&big))
}

func TestBatchCapacityOverflow(t *testing.T) {
	t.Parallel()

	b := NewBatch(200)
	first := base.PlainItem(base.RID{Block: 0, Off: 1}, make([]byte, 100))
	second := base.PlainItem(base.RID{Block: 0, Off: 2}, make([]byte, 100))

	require.True(t, b.Add(&first))
	// Over capacity, but a fresh batch takes it fine.
	assert.False(t, b.Add(&second))
	assert.Equal(t, 1, b.Len())

	fresh := NewBatch(200)
	assert.True(t, fresh.Add(&second))
}

func TestFinishEmpty(t *testing.T) {
	t.Parallel()

	b := NewBatch(4096)
	_, err := b.Finish()
	assert.ErrorIs(t, err, ErrBatchEmpty)
}

func TestDecodeRejectsPlain(t *testing.T) {
	t.Parallel()

	it := base.PlainItem(base.ZeroRID, []byte("plain"))
	_, err := Decode(&it)
	assert.ErrorIs(t, err, ErrNotCompressed)
}
