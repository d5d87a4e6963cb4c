package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRIDOrdering(t *testing.T) {
	t.Parallel()

	ordered := []RID{
		ZeroRID,
		{Block: 0, Off: 2},
		{Block: 0, Off: 0xFFFF},
		{Block: 1, Off: 1},
		{Block: 1, Off: 300},
		{Block: 7, Off: 1},
		RightmostRID,
		MaxRID,
	}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i-1].Less(ordered[i]),
			"%v should order before %v", ordered[i-1], ordered[i])
		assert.Equal(t, -1, ordered[i-1].Compare(ordered[i]))
		assert.Equal(t, 1, ordered[i].Compare(ordered[i-1]))
	}
	assert.Equal(t, 0, ZeroRID.Compare(ZeroRID))
	assert.False(t, MaxRID.Less(MaxRID))
}

func TestRIDNext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RID{Block: 0, Off: 2}, ZeroRID.Next())

	// The offset never lands on the invalid 0; it wraps into the next
	// block instead.
	end := RID{Block: 3, Off: 0xFFFF}
	assert.Equal(t, RID{Block: 4, Off: 1}, end.Next())
	assert.True(t, end.Next().Valid())
}

func TestRIDValid(t *testing.T) {
	t.Parallel()

	assert.False(t, RID{}.Valid())
	assert.False(t, RID{Block: 9, Off: 0}.Valid())
	assert.True(t, ZeroRID.Valid())
	assert.True(t, MaxRID.Valid())
}

func TestRIDEncoding(t *testing.T) {
	t.Parallel()

	for _, r := range []RID{ZeroRID, {Block: 123456, Off: 789}, MaxRID} {
		buf := AppendRID(nil, r)
		assert.Len(t, buf, RIDSize)
		assert.Equal(t, r, GetRID(buf))
	}
}
