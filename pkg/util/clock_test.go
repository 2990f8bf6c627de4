package util

import (
	"testing"
	"time"
)

func TestSeconds(t *testing.T) {
	ts := time.Unix(1640780000, 500_000_000)
	if got := Seconds(ts); got != 1640780000.5 {
		t.Fatalf("Seconds = %v, want 1640780000.5", got)
	}
}

func TestFromMillis(t *testing.T) {
	got := FromMillis(1499865549590)
	if diff := got - 1499865549.590; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("FromMillis = %v, want 1499865549.590", got)
	}
}
