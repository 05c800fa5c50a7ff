package memory

import (
	"context"
	"testing"
)

func TestHeuristicProbeDetectsMarkerPhrase(t *testing.T) {
	p := HeuristicProbe{}
	if !p.Probe(context.Background(), "I finally understood why the cache was stale") {
		t.Fatal("expected marker phrase to be detected as a catalyst")
	}
}

func TestHeuristicProbeDetectsExclamationDensity(t *testing.T) {
	p := HeuristicProbe{}
	if !p.Probe(context.Background(), "wait!! this changes everything!! wow!!") {
		t.Fatal("expected high exclamation density to be detected as a catalyst")
	}
}

func TestHeuristicProbeIgnoresOrdinaryContent(t *testing.T) {
	p := HeuristicProbe{}
	if p.Probe(context.Background(), "the meeting is rescheduled to 3pm on Tuesday") {
		t.Fatal("expected ordinary content not to be flagged as a catalyst")
	}
}
