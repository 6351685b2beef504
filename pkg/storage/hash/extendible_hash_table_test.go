package hash

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intKeyHasher(k int32) Hasher[int32] {
	_ = k
	return FNV64Key(func(k int32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(k))
		return b
	})
}

func TestExtendibleHashTableFindInsertRemove(t *testing.T) {
	tbl := New[int32, string](4, intKeyHasher(0))

	tbl.Insert(1, "one")
	tbl.Insert(2, "two")

	v, ok := tbl.Find(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	assert.True(t, tbl.Remove(1))
	_, ok = tbl.Find(1)
	assert.False(t, ok)

	assert.False(t, tbl.Remove(999))
}

// TestExtendibleHashTableBucketSplit mirrors spec §8 boundary scenario 1:
// bucket_size=2, insert three keys that overflow one bucket and force a
// directory doubling; every key must remain retrievable afterward.
func TestExtendibleHashTableBucketSplit(t *testing.T) {
	tbl := New[int32, int32](2, intKeyHasher(0))

	tbl.Insert(1, 10)
	tbl.Insert(2, 20)
	assert.Equal(t, 0, tbl.GlobalDepth())

	tbl.Insert(3, 30)
	assert.GreaterOrEqual(t, tbl.GlobalDepth(), 1)

	for k, want := range map[int32]int32{1: 10, 2: 20, 3: 30} {
		v, ok := tbl.Find(k)
		assert.True(t, ok, "key %d should be found", k)
		assert.Equal(t, want, v)
	}
}

func TestExtendibleHashTableOverwriteExistingKey(t *testing.T) {
	tbl := New[int32, int32](2, intKeyHasher(0))
	tbl.Insert(5, 1)
	tbl.Insert(5, 2)
	v, ok := tbl.Find(5)
	assert.True(t, ok)
	assert.Equal(t, int32(2), v)
}

func TestExtendibleHashTableManyKeysSurviveRepeatedSplits(t *testing.T) {
	tbl := New[int32, int32](2, intKeyHasher(0))
	const n = 200
	for i := int32(0); i < n; i++ {
		tbl.Insert(i, i*10)
	}
	for i := int32(0); i < n; i++ {
		v, ok := tbl.Find(i)
		assert.True(t, ok)
		assert.Equal(t, i*10, v)
	}
}
