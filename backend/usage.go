package backend

import "strings"

// QueueType identifies a hardware command-submission stream.
type QueueType uint8

const (
	// QueueGraphics accepts render, compute and copy work.
	QueueGraphics QueueType = iota
	// QueueCompute accepts compute and copy work.
	QueueCompute
	// QueueCopy accepts transfer work only.
	QueueCopy
)

// NumQueueTypes is the number of distinct queue types.
const NumQueueTypes = 3

// String returns the queue name.
func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// ParseQueueType converts a queue name produced by String back to a QueueType.
func ParseQueueType(s string) (QueueType, bool) {
	for q := QueueGraphics; q < NumQueueTypes; q++ {
		if q.String() == s {
			return q, true
		}
	}
	return 0, false
}

// Usage is a set of ways a resource is accessed by the GPU. A single
// access carries one usage; a resource accumulates the union of all its
// accesses.
type Usage uint32

// Resource usages.
const (
	UsageSampled Usage = 1 << iota
	UsageColorTarget
	UsageDepthRead
	UsageDepthWrite
	UsageStorageRead
	UsageStorageWrite
	UsageCopySrc
	UsageCopyDst
	UsageVertex
	UsageIndex
	UsageIndirect
	UsageUniform
	UsagePresent

	// UsageNone is the state of a resource whose contents are undefined.
	UsageNone Usage = 0
)

const (
	writeUsages = UsageColorTarget | UsageDepthWrite | UsageStorageWrite | UsageCopyDst

	// TextureUsages is the set of usages valid for textures.
	TextureUsages = UsageSampled | UsageColorTarget | UsageDepthRead | UsageDepthWrite |
		UsageStorageRead | UsageStorageWrite | UsageCopySrc | UsageCopyDst | UsagePresent

	// BufferUsages is the set of usages valid for buffers.
	BufferUsages = UsageStorageRead | UsageStorageWrite | UsageCopySrc | UsageCopyDst |
		UsageVertex | UsageIndex | UsageIndirect | UsageUniform
)

var usageNames = [...]string{
	"sampled",
	"color-target",
	"depth-read",
	"depth-write",
	"storage-read",
	"storage-write",
	"copy-src",
	"copy-dst",
	"vertex",
	"index",
	"indirect",
	"uniform",
	"present",
}

// IsWrite reports whether u contains a usage that modifies contents.
func (u Usage) IsWrite() bool { return u&writeUsages != 0 }

// Contains reports whether all bits of flag are set in u.
func (u Usage) Contains(flag Usage) bool { return u&flag == flag }

// String returns the usage names joined by '|', or "none".
func (u Usage) String() string {
	if u == UsageNone {
		return "none"
	}
	var parts []string
	for i, name := range usageNames {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := u &^ (1<<len(usageNames) - 1); rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

// ParseUsage converts a single usage name, as printed by String, to a Usage.
func ParseUsage(s string) (Usage, bool) {
	for i, name := range usageNames {
		if name == s {
			return 1 << i, true
		}
	}
	return UsageNone, false
}
