package profiling

import (
	"strings"
	"testing"
	"time"
)

func TestTrackAndTopN(t *testing.T) {
	ResetFrame()
	frameTotals["slow"] = 3 * time.Millisecond
	frameTotals["fast"] = 1 * time.Millisecond
	frameTotals["mid"] = 2500 * time.Microsecond
	Track("instant")()

	got := TopN(2)
	if got != "slow:3.0ms, mid:2.5ms" {
		t.Fatalf("TopN(2): got %q", got)
	}
	if n := strings.Count(TopN(10), ","); n != 3 {
		t.Fatalf("TopN(10): got %d separators, want 3", n)
	}
}

func TestCountAndReset(t *testing.T) {
	ResetFrame()
	Count("accel.builds", 2)
	Count("accel.builds", 3)
	if got := Counts()["accel.builds"]; got != 5 {
		t.Fatalf("count: got %d, want 5", got)
	}
	ResetFrame()
	if len(Counts()) != 0 || len(Snapshot()) != 0 {
		t.Fatal("ResetFrame left entries behind")
	}
}
