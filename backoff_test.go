package weave

import (
	"testing"
	"time"
)

func TestSteppedBackoffStep(t *testing.T) {
	b := newReconnectBackoff()
	if b.Wait() != time.Second {
		t.Fatalf("initial wait = %v, want 1s", b.Wait())
	}
	if b.Timeout() != 2*time.Second {
		t.Fatalf("initial timeout = %v, want 2s", b.Timeout())
	}

	for i := 0; i < 10; i++ {
		b.Step()
	}

	if b.Wait() != MaxReconnectWait {
		t.Errorf("wait = %v, want capped at %v", b.Wait(), MaxReconnectWait)
	}
	if b.Timeout() != MaxReconnectTimeout {
		t.Errorf("timeout = %v, want capped at %v", b.Timeout(), MaxReconnectTimeout)
	}
}

func TestSteppedBackoffDoubles(t *testing.T) {
	b := newReconnectBackoff()
	b.Step()
	if b.Wait() != 2*time.Second {
		t.Errorf("wait after one step = %v, want 2s", b.Wait())
	}
	if b.Timeout() != 3*time.Second {
		t.Errorf("timeout after one step = %v, want 3s", b.Timeout())
	}
}
