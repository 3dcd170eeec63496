// internal/services/assignment.go
package services

// Round-robin cursor arithmetic for the reviewer auto-assignment
// engine, kept as pure functions of (cursor, pool size). Consuming
// slots in strictly increasing cursor order, and only ever resetting
// the cursor together with the pool, keeps every reviewer's count
// within one of any other's.

// slotIndex returns the pool position serving the k-th slot of the
// current application.
func slotIndex(cursor, k, poolSize uint32) uint32 {
	return (cursor + k) % poolSize
}

// advanceCursor moves the cursor past `slots` consumed slots.
func advanceCursor(cursor, slots, poolSize uint32) uint32 {
	return (cursor + slots) % poolSize
}

// cursorFor is the invariant form of the cursor: the total number of
// slots consumed since the pool was (re)installed, mod pool size.
func cursorFor(totalSlots uint64, poolSize uint32) uint32 {
	return uint32(totalSlots % uint64(poolSize))
}

// expectedCounts returns the per-position slot counts after totalSlots
// consecutive slots starting from a zero cursor. Used by tests to state
// the balance property independently of the engine.
func expectedCounts(totalSlots uint64, poolSize uint32) []uint64 {
	counts := make([]uint64, poolSize)
	base := totalSlots / uint64(poolSize)
	rem := totalSlots % uint64(poolSize)
	for i := range counts {
		counts[i] = base
		if uint64(i) < rem {
			counts[i]++
		}
	}
	return counts
}
