package engine

import (
	"reflect"
	"testing"
	"time"
)

func TestSelectOrphansSparesLiveSiblings(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-10 * time.Minute)
	list := []ManagedContainer{
		{ID: "mine-running", Instance: "self", Created: now},
		{ID: "mine-leaked", Instance: "self", Created: now},
		{ID: "sibling-running", Instance: "other", Created: now.Add(-time.Minute)},
		{ID: "dead-instance", Instance: "gone", Created: now.Add(-time.Hour)},
		{ID: "unlabelled-old", Created: now.Add(-time.Hour)},
		{ID: "unlabelled-new", Created: now},
	}
	live := map[string]struct{}{"mine-running": {}}

	got := SelectOrphans(list, "self", live, cutoff)
	want := []string{"mine-leaked", "dead-instance", "unlabelled-old"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSelectOrphansNothingToSweep(t *testing.T) {
	if got := SelectOrphans(nil, "self", nil, time.Now()); len(got) != 0 {
		t.Fatalf("expected no orphans, got %v", got)
	}
}
