package ttlcache

import (
	"testing"
	"time"
)

func TestAdd_NewAndRepeat(t *testing.T) {
	t.Parallel()

	c := New(10, time.Minute)
	if !c.Add("a") {
		t.Error("first Add should report new")
	}
	if c.Add("a") {
		t.Error("second Add should report seen")
	}
	if !c.Contains("a") {
		t.Error("Contains = false, want true")
	}
}

func TestAdd_ExpiredKeyIsNewAgain(t *testing.T) {
	t.Parallel()

	c := New(10, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Add("a")
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	if c.Contains("a") {
		t.Error("expired key still contained")
	}
	if !c.Add("a") {
		t.Error("expired key should count as new")
	}
}

func TestAdd_EvictsLeastRecentlySeen(t *testing.T) {
	t.Parallel()

	c := New(2, time.Minute)
	c.Add("a")
	c.Add("b")
	c.Add("a") // refresh a; b becomes oldest
	c.Add("c") // evicts b

	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !c.Contains("a") || !c.Contains("c") {
		t.Error("a and c should remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}
