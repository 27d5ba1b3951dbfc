package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDEncoderUnknownStrategy(t *testing.T) {
	_, err := NewIDEncoder("hashid")
	require.Error(t, err)
}

func TestUUIDEncoderIssuesDistinctIDs(t *testing.T) {
	enc, err := NewIDEncoder("uuid")
	require.NoError(t, err)

	a, b := enc.NewID(), enc.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSequenceEncoderIssuesDistinctFixedWidthIDs(t *testing.T) {
	enc, err := NewIDEncoder("sequence")
	require.NoError(t, err)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := enc.NewID()
		assert.Len(t, id, 13)
		_, dup := seen[id]
		require.False(t, dup, "collision at draw %d: %s", i, id)
		seen[id] = struct{}{}
	}
}

func TestPermuteIsInjectiveOnSmallRange(t *testing.T) {
	seen := make(map[uint64]struct{}, 100000)
	for n := uint64(0); n < 100000; n++ {
		p := permute(n)
		_, dup := seen[p]
		require.False(t, dup, "permutation collision at %d", n)
		seen[p] = struct{}{}
	}
}

func TestSequenceEncoderObscuresOrdering(t *testing.T) {
	enc := &sequenceEncoder{}
	// Consecutive counter values should not produce adjacent encodings.
	assert.NotEqual(t, enc.NewID()[:4], enc.NewID()[:4])
}
