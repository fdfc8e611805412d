package server

import (
	"encoding/json"
	"math/big"
	"testing"

	"hedgeline/core/events"
	"hedgeline/core/types"
)

func TestHubFiltersByPrefix(t *testing.T) {
	hub := NewHub()
	perps, cancelPerps := hub.subscribe("perpetual.")
	defer cancelPerps()
	all, cancelAll := hub.subscribe("")
	defer cancelAll()

	hub.Emit(events.PerpetualCreated{ID: 7, Owner: alice, Margin: big.NewInt(1), Committed: big.NewInt(2), EntryRate: big.NewInt(3)})
	hub.Emit(events.FeesUpdated{Scope: "users"})

	if len(perps.ch) != 1 {
		t.Fatalf("expected one perpetual event, got %d", len(perps.ch))
	}
	if len(all.ch) != 2 {
		t.Fatalf("expected two events, got %d", len(all.ch))
	}
	var evt types.Event
	if err := json.Unmarshal(<-perps.ch, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Attributes["id"] != "7" || evt.Attributes["margin"] != "1" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub()
	sub, cancel := hub.subscribe("")
	for i := 0; i < hubBuffer+10; i++ {
		hub.Emit(events.FeesUpdated{Scope: "ha"})
	}
	if len(sub.ch) != hubBuffer {
		t.Fatalf("expected a full buffer, got %d", len(sub.ch))
	}
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}
