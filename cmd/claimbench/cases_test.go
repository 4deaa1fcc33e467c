package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 0.5); got != 5 {
		t.Fatalf("expected p50=5, got %d", got)
	}
	if got := percentile(sorted, 0.95); got != 9 {
		t.Fatalf("expected p95=9, got %d", got)
	}
	if got := percentile([]time.Duration{7}, 0.95); got != 7 {
		t.Fatalf("expected single value, got %d", got)
	}
}
