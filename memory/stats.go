package memory

import "fmt"

// Stats summarizes one allocation.
type Stats struct {
	// Resources is the number of placed requests.
	Resources int

	// Blocks is the number of arena blocks used.
	Blocks int

	// RequestedBytes is the sum of all aligned request sizes.
	RequestedBytes uint64

	// ReservedBytes is the sum of all block sizes.
	ReservedBytes uint64

	// UsedBytes is the sum of the per-block high-water marks.
	UsedBytes uint64

	// PeakBytes is the highest sum of live aligned request sizes.
	PeakBytes uint64

	// Reused is the number of requests placed into memory previously
	// occupied by a resource whose lifetime had ended.
	Reused int

	// OverBudget is the number of blocks allocated beyond MaxBlocks.
	OverBudget int
}

// Savings returns the fraction of requested bytes that aliasing avoided
// reserving (0.0 to 1.0).
func (s Stats) Savings() float64 {
	if s.RequestedBytes == 0 || s.UsedBytes >= s.RequestedBytes {
		return 0
	}
	return 1 - float64(s.UsedBytes)/float64(s.RequestedBytes)
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Memory[%d resources, %d blocks, %d/%d KB used/requested, %.1f%% saved, %d reused]",
		s.Resources,
		s.Blocks,
		s.UsedBytes/1024,
		s.RequestedBytes/1024,
		s.Savings()*100,
		s.Reused)
}
