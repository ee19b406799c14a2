package memory

import (
	"errors"
	"fmt"
)

// Allocation errors.
var (
	// ErrArenaExhausted is returned when a request cannot be placed without
	// exceeding the growth budget under PolicyFail.
	ErrArenaExhausted = errors.New("memory: arena exhausted")

	// ErrInvalidRequest is returned for requests with zero size or an
	// empty lifetime.
	ErrInvalidRequest = errors.New("memory: invalid request")

	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("memory: pool closed")

	// ErrAliasingViolation is returned by Verify when two resources with
	// overlapping lifetimes share bytes.
	ErrAliasingViolation = errors.New("memory: aliasing violation")
)

// Policy decides what happens when the growth budget is spent.
type Policy uint8

const (
	// PolicyGrow exceeds the budget and logs a warning.
	PolicyGrow Policy = iota

	// PolicyFail fails the frame with ErrArenaExhausted.
	PolicyFail
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyGrow:
		return "grow"
	case PolicyFail:
		return "fail"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy converts "grow" or "fail" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "grow", "":
		return PolicyGrow, nil
	case "fail":
		return PolicyFail, nil
	default:
		return 0, fmt.Errorf("memory: unknown policy %q", s)
	}
}

// Default limits.
const (
	// DefaultBlockSize is the default arena block size (64 MB).
	DefaultBlockSize = 64 << 20

	// DefaultMaxBlocks is the default per-arena growth budget.
	DefaultMaxBlocks = 8

	// DefaultFramesInFlight is the default number of arenas in the ring.
	DefaultFramesInFlight = 2

	// MinBlockSize is the smallest accepted block size (1 MB).
	MinBlockSize = 1 << 20
)

// Config configures the allocator and pool.
type Config struct {
	// BlockSize is the size of one arena block in bytes.
	// Defaults to DefaultBlockSize if below MinBlockSize.
	BlockSize uint64

	// MaxBlocks is the number of blocks an arena may use before the
	// policy applies. Defaults to DefaultMaxBlocks if <= 0.
	MaxBlocks int

	// FramesInFlight is the number of arenas kept in the pool ring.
	// Defaults to DefaultFramesInFlight if <= 0.
	FramesInFlight int

	// Policy decides between growing and failing on exhaustion.
	Policy Policy
}

// withDefaults returns c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.BlockSize < MinBlockSize {
		c.BlockSize = DefaultBlockSize
	}
	if c.MaxBlocks <= 0 {
		c.MaxBlocks = DefaultMaxBlocks
	}
	if c.FramesInFlight <= 0 {
		c.FramesInFlight = DefaultFramesInFlight
	}
	return c
}
