package cache

import (
	"testing"
	"time"
)

func TestJitterTTLBounds(t *testing.T) {
	ttl := 10 * time.Minute
	for i := 0; i < 50; i++ {
		got := JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jittered ttl %s outside bounds", got)
		}
	}
	if JitterTTL(0) != 0 {
		t.Fatalf("zero ttl must stay zero")
	}
}
