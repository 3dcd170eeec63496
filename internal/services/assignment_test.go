// internal/services/assignment_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulate consumes numPerApplication slots for each of n applications
// and returns the per-position counts plus the final cursor.
func simulate(poolSize, numPerApplication uint32, n int) ([]uint64, uint32) {
	counts := make([]uint64, poolSize)
	cursor := uint32(0)
	for i := 0; i < n; i++ {
		for k := uint32(0); k < numPerApplication; k++ {
			counts[slotIndex(cursor, k, poolSize)]++
		}
		cursor = advanceCursor(cursor, numPerApplication, poolSize)
	}
	return counts, cursor
}

func TestSlotIndexWraps(t *testing.T) {
	assert.Equal(t, uint32(0), slotIndex(0, 0, 5))
	assert.Equal(t, uint32(4), slotIndex(3, 1, 5))
	assert.Equal(t, uint32(0), slotIndex(3, 2, 5))
	assert.Equal(t, uint32(1), slotIndex(2, 2, 3))
}

func TestAdvanceCursor(t *testing.T) {
	assert.Equal(t, uint32(2), advanceCursor(0, 2, 5))
	assert.Equal(t, uint32(1), advanceCursor(4, 2, 5))
	assert.Equal(t, uint32(0), advanceCursor(2, 4, 3))
}

func TestCursorMatchesTotalSlots(t *testing.T) {
	cases := []struct {
		poolSize uint32
		perApp   uint32
		apps     int
	}{
		{5, 2, 7},
		{3, 4, 5},
		{1, 1, 10},
		{7, 3, 11},
		{4, 4, 6},
	}

	for _, tc := range cases {
		_, cursor := simulate(tc.poolSize, tc.perApp, tc.apps)
		totalSlots := uint64(tc.perApp) * uint64(tc.apps)
		assert.Equal(t, cursorFor(totalSlots, tc.poolSize), cursor,
			"pool=%d perApp=%d apps=%d", tc.poolSize, tc.perApp, tc.apps)
	}
}

func TestDistributionBalanced(t *testing.T) {
	cases := []struct {
		poolSize uint32
		perApp   uint32
		apps     int
	}{
		{5, 2, 7},
		{3, 1, 100},
		{6, 5, 13},
		{2, 2, 9},
		{10, 3, 33},
	}

	for _, tc := range cases {
		counts, _ := simulate(tc.poolSize, tc.perApp, tc.apps)

		min, max := counts[0], counts[0]
		var sum uint64
		for _, c := range counts {
			if c < min {
				min = c
			}
			if c > max {
				max = c
			}
			sum += c
		}

		assert.LessOrEqual(t, max-min, uint64(1),
			"pool=%d perApp=%d apps=%d counts=%v", tc.poolSize, tc.perApp, tc.apps, counts)
		assert.Equal(t, uint64(tc.perApp)*uint64(tc.apps), sum)
	}
}

func TestDistributionMatchesExpectedCounts(t *testing.T) {
	counts, _ := simulate(5, 2, 7)
	assert.Equal(t, expectedCounts(14, 5), counts)
}

// A pass larger than the pool wraps within a single application, so
// one reviewer serves several slots of the same application.
func TestPassLargerThanPoolWraps(t *testing.T) {
	counts, cursor := simulate(3, 4, 1)

	require.Equal(t, []uint64{2, 1, 1}, counts)
	assert.Equal(t, uint32(1), cursor)

	counts, cursor = simulate(3, 4, 3)
	assert.Equal(t, []uint64{4, 4, 4}, counts)
	assert.Equal(t, uint32(0), cursor)
}

func TestExpectedCountsShape(t *testing.T) {
	assert.Equal(t, []uint64{3, 3, 2, 2, 2}, expectedCounts(12, 5))
	assert.Equal(t, []uint64{0, 0, 0}, expectedCounts(0, 3))
	assert.Equal(t, []uint64{7}, expectedCounts(7, 1))
}
