package tools

import (
	"errors"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(Action{Name: "send-email", Risk: RiskLow})

	a, err := r.Get("send-email")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Risk != RiskLow {
		t.Fatalf("unexpected risk: %v", a.Risk)
	}

	_, err = r.Get("nope")
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry().WithDefaults()
	list := r.List()
	if len(list) < 3 {
		t.Fatalf("expected default actions, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Fatalf("list not sorted: %s before %s", list[i-1].Name, list[i].Name)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	for s, want := range map[string]RiskLevel{"low": RiskLow, "medium": RiskMedium, "high": RiskHigh} {
		got, err := ParseRiskLevel(s)
		if err != nil || got != want {
			t.Fatalf("parse %q: %v %v", s, got, err)
		}
	}
	if _, err := ParseRiskLevel("extreme"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if RiskHigh.String() != "high" {
		t.Fatalf("unexpected String: %s", RiskHigh.String())
	}
}
