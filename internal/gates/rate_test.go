package gates

import (
	"testing"
	"time"
)

func TestRateGatePostFloor(t *testing.T) {
	g := NewRateGate()

	ok, _ := g.Allow("cred-a", ChannelPost)
	if !ok {
		t.Fatal("first post should be allowed")
	}

	ok, retryAfter := g.Allow("cred-a", ChannelPost)
	if ok {
		t.Fatal("a second post within the same minute should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retry hint should be within the one-minute floor, got %s", retryAfter)
	}
}

func TestRateGateChannelsIndependent(t *testing.T) {
	g := NewRateGate()

	// drain the posting floor
	g.Allow("cred-a", ChannelPost)
	if ok, _ := g.Allow("cred-a", ChannelPost); ok {
		t.Fatal("posting floor should be drained")
	}

	// mention reads keep their own budget and carry no floor
	for i := 0; i < 5; i++ {
		if ok, _ := g.Allow("cred-a", ChannelMentions); !ok {
			t.Fatalf("mention read %d should be allowed, posting must not starve reads", i)
		}
	}
}

func TestRateGateCredentialsIndependent(t *testing.T) {
	g := NewRateGate()

	g.Allow("cred-a", ChannelPost)
	if ok, _ := g.Allow("cred-a", ChannelPost); ok {
		t.Fatal("cred-a floor should be drained")
	}

	if ok, _ := g.Allow("cred-b", ChannelPost); !ok {
		t.Error("another credential set keeps its own budget")
	}
}

func TestRateGateWindowBudget(t *testing.T) {
	g := NewRateGate()

	// the read channel has no floor; the 300-call window budget still
	// runs out eventually
	allowed := 0
	for i := 0; i < windowCalls+10; i++ {
		if ok, _ := g.Allow("cred-a", ChannelRead); ok {
			allowed++
		}
	}

	if allowed > windowCalls {
		t.Errorf("window budget exceeded: %d calls allowed, cap is %d", allowed, windowCalls)
	}
	if allowed < windowCalls {
		t.Errorf("full burst should be available up front, got %d of %d", allowed, windowCalls)
	}
}
