package idgen_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jawhnycooke/longhaul/internal/idgen"
)

func TestNewFormat(t *testing.T) {
	t.Parallel()
	id := idgen.New("b")
	if !strings.HasPrefix(id, "b-") {
		t.Fatalf("id = %q, want b- prefix", id)
	}
	suffix := id[2:]
	if len(suffix) != 11 {
		t.Errorf("suffix %q has len=%d, want 11", suffix, len(suffix))
	}
	for _, c := range suffix {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Errorf("id %q contains non-base36 char %q", id, c)
		}
	}
}

// Lexicographic order of the suffix must equal mint order; the backlog and
// the ledgers directory rely on this instead of sorting by a timestamp field.
func TestNewSortsInMintOrder(t *testing.T) {
	t.Parallel()
	earlier := idgen.New("b")
	time.Sleep(2 * time.Millisecond)
	later := idgen.New("b")
	if earlier[2:] >= later[2:] {
		t.Errorf("earlier id %q sorts after later id %q", earlier, later)
	}
}

// Rapid same-millisecond mints must stay unique; the serial component covers
// 36^3 ids per tick.
func TestNewUniqueUnderBursts(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := idgen.New("b")
		if seen[id] {
			t.Fatalf("duplicate id after %d mints: %q", i, id)
		}
		seen[id] = true
		if i%100 == 99 {
			time.Sleep(time.Millisecond)
		}
	}
}
