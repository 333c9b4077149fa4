package revdist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsProcessedLeaf(t *testing.T) {
	// Bits 0, 7, and 9 set.
	bitmap := []byte{0b1000_0001, 0b0000_0010}

	set, err := IsProcessedLeaf(bitmap, 0)
	require.NoError(t, err)
	require.True(t, set)

	set, err = IsProcessedLeaf(bitmap, 7)
	require.NoError(t, err)
	require.True(t, set)

	set, err = IsProcessedLeaf(bitmap, 9)
	require.NoError(t, err)
	require.True(t, set)

	for _, idx := range []int{1, 2, 3, 4, 5, 6, 8, 10, 15} {
		set, err = IsProcessedLeaf(bitmap, idx)
		require.NoError(t, err)
		require.False(t, set, "bit %d", idx)
	}
}

func TestIsProcessedLeafOutOfRange(t *testing.T) {
	_, err := IsProcessedLeaf([]byte{0}, 8)
	require.Error(t, err)
	_, err = IsProcessedLeaf(nil, 0)
	require.Error(t, err)
	_, err = IsProcessedLeaf([]byte{0}, -1)
	require.Error(t, err)
}

func TestProcessedLeafCount(t *testing.T) {
	bitmap := []byte{0b0000_0111}
	require.Equal(t, 3, ProcessedLeafCount(bitmap, 8))
	require.Equal(t, 2, ProcessedLeafCount(bitmap, 2))
	require.Equal(t, 0, ProcessedLeafCount(nil, 8))
}

func TestBitmapWindows(t *testing.T) {
	dist := &Distribution{
		ProcessedSolanaValidatorDebtStartIndex:         0,
		ProcessedSolanaValidatorDebtEndIndex:           2,
		ProcessedSolanaValidatorDebtWriteOffStartIndex: 2,
		ProcessedSolanaValidatorDebtWriteOffEndIndex:   4,
		ProcessedRewardsStartIndex:                     4,
		ProcessedRewardsEndIndex:                       5,
	}
	remaining := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}

	require.Equal(t, []byte{0xAA, 0xBB}, DebtBitmap(dist, remaining))
	require.Equal(t, []byte{0xCC, 0xDD}, WriteOffBitmap(dist, remaining))
	require.Equal(t, []byte{0xEE}, RewardsBitmap(dist, remaining))

	// Windows out of bounds yield nil rather than panicking.
	dist.ProcessedRewardsEndIndex = 100
	require.Nil(t, RewardsBitmap(dist, remaining))
}
