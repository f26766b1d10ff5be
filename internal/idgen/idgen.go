// Package idgen mints the identifiers for backlog items. IDs with the same
// prefix sort lexicographically in mint order, which keeps the backlog
// document and the .lh/ledgers/ directory readable without any extra
// bookkeeping: newest items always list last.
package idgen

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// An ID looks like "b-00sw2hk9q000": the domain prefix ("b" for backlog
// items), eight base36 chars of milliseconds since epochStart, then a
// three-char base36 serial that disambiguates IDs minted in the same
// millisecond. Base36 runs '0'..'9' then 'a'..'z', so byte order equals
// numeric order and the eleven-char suffix sorts temporally.
const (
	// epochStart is 2024-01-01T00:00:00Z in Unix milliseconds. Counting from
	// here instead of 1970 keeps the time component inside eight base36
	// chars until roughly the year 2113.
	epochStart int64 = 1704067200000

	timeWidth   = 8
	serialWidth = 3
	serialSpace = 36 * 36 * 36
)

// clock reports milliseconds since epochStart. Swappable in tests.
var clock = func() int64 {
	return time.Now().UnixMilli() - epochStart
}

// Serial state: IDs minted within one millisecond get increasing serials so
// mint order survives a lexicographic sort.
var (
	mu       sync.Mutex
	lastTick int64 = -1
	serial   int64
)

// New mints an ID for the given domain prefix. The suffix is always eleven
// base36 chars.
func New(prefix string) string {
	mu.Lock()
	tick := clock()
	// A clock behind epochStart would make FormatInt emit a '-', which is
	// outside the base36 alphabet and breaks sort order. Pin to the epoch.
	if tick < 0 {
		tick = 0
	}
	if tick == lastTick {
		serial++
	} else {
		lastTick = tick
		serial = 0
	}
	n := serial % serialSpace
	mu.Unlock()

	return prefix + "-" + pad36(tick, timeWidth) + pad36(n, serialWidth)
}

// pad36 renders v in base36, left-padded with '0' to width chars.
func pad36(v int64, width int) string {
	s := strconv.FormatInt(v, 36)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
