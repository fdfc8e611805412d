package events

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Emit(PerpetualTransfer{ID: 1})
	m.Emit(bareEvent{})
	if got := a.Types(); len(got) != 2 || got[0] != TypePerpetualTransfer || got[1] != "bare" {
		t.Fatalf("unexpected recorded types %v", got)
	}
	if len(b.Events()) != 2 {
		t.Fatalf("second recorder missed events")
	}
}

func TestFlatten(t *testing.T) {
	owner := ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := Flatten(PerpetualCreated{ID: 7, Owner: owner, Margin: big.NewInt(100), Committed: big.NewInt(500)})
	if evt.Type != TypePerpetualCreated {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["id"] != "7" || evt.Attributes["owner"] != owner.Hex() || evt.Attributes["entryRate"] != "0" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
	bare := Flatten(bareEvent{})
	if bare.Type != "bare" || len(bare.Attributes) != 0 {
		t.Fatalf("unexpected bare flatten %+v", bare)
	}
}
