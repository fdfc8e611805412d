package common

import (
	"math/big"
	"testing"
)

func TestMulDivRoundsDown(t *testing.T) {
	got := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(4))
	if got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected 7, got %s", got)
	}
	if MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)).Sign() != 0 {
		t.Fatalf("zero divisor should yield zero")
	}
}

func TestApplyRatio(t *testing.T) {
	amount := big.NewInt(500)
	got := ApplyRatio(amount, BaseParams/10)
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50, got %s", got)
	}
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModulePerpetual); err != nil {
		t.Fatalf("nil view should not block: %v", err)
	}
	if err := Guard(pauseSet{ModulePerpetual: true}, ModulePerpetual); err != ErrModulePaused {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauseSet{ModuleFees: true}, ModulePerpetual); err != nil {
		t.Fatalf("unrelated pause should not block: %v", err)
	}
	if !KnownModule(ModuleRewards) || KnownModule("swap") {
		t.Fatalf("unexpected module registry result")
	}
}
