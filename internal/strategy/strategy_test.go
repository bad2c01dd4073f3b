package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradelab/internal/domain"
)

func stubFactory(name string) Factory {
	return func(params domain.ParameterSet) (Strategy, error) {
		if params.Float("fail", 0) != 0 {
			return nil, errors.New("bad params")
		}
		return Func{ID: name, Bars: 3, Fn: func(context.Context, time.Time, map[string]float64, History) (map[string]domain.Signal, error) {
			return nil, nil
		}}, nil
	}
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	s, err := r.New("test-strategy", domain.ParameterSet{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if s.Name() != "test-strategy" || s.Lookback() != 3 {
		t.Errorf("New returned %q lookback %d", s.Name(), s.Lookback())
	}
}

func TestRegistryNew_Errors(t *testing.T) {
	r := NewRegistry()
	r.Register("picky", stubFactory("picky"))

	if _, err := r.New("nonexistent", domain.ParameterSet{}); err == nil {
		t.Error("New returned nil error for unregistered strategy")
	}
	bad := domain.NewParameterSet(map[string]float64{"fail": 1})
	if _, err := r.New("picky", bad); err == nil {
		t.Error("New returned nil error for rejected params")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestFuncAdapter(t *testing.T) {
	called := false
	f := Func{ID: "fn", Fn: func(_ context.Context, _ time.Time, prices map[string]float64, _ History) (map[string]domain.Signal, error) {
		called = true
		return map[string]domain.Signal{"AAPL": {Symbol: "AAPL", Type: domain.SignalTypeBuy}}, nil
	}}
	got, err := f.Signals(context.Background(), time.Now(), map[string]float64{"AAPL": 1}, nil)
	if err != nil || !called || got["AAPL"].Type != domain.SignalTypeBuy {
		t.Errorf("Signals = %v, %v (called %v)", got, err, called)
	}
}
