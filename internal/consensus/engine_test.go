package consensus

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/idhash"
)

func testParams() Params {
	return Params{
		Weights:       map[string]float64{"A": 0.4, "B": 0.4, "C": 0.2},
		BaseThreshold: 60,
		NeutralBand:   0.1,
		StopLossPct:   2,
		TakeProfitPct: 4,
		Regimes:       DefaultRegimes(),
	}
}

func src(id string, score, conf float64) *domain.SourceSignal {
	return &domain.SourceSignal{SourceID: id, Symbol: "AAPL", DirectionalScore: score, Confidence: conf}
}

func mustEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
		wantErr bool
	}{
		{"exact", map[string]float64{"a": 0.5, "b": 0.5}, false},
		{"within tolerance", map[string]float64{"a": 0.5, "b": 0.54}, false},
		{"too high", map[string]float64{"a": 0.6, "b": 0.5}, true},
		{"negative", map[string]float64{"a": 1.1, "b": -0.1}, true},
		{"empty", map[string]float64{}, true},
	}
	for _, tt := range tests {
		err := ValidateWeights(tt.weights)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidWeights) {
			t.Errorf("%s: expected ErrInvalidWeights, got %v", tt.name, err)
		}
	}
}

func TestRenormalize_MissingSource(t *testing.T) {
	got := Renormalize(map[string]float64{"A": 0.4, "B": 0.4, "C": 0.2}, []string{"C", "A"})
	if len(got) != 2 {
		t.Fatalf("expected 2 weights, got %v", got)
	}
	if got[0].SourceID != "A" || math.Abs(got[0].Weight-2.0/3.0) > 1e-9 {
		t.Errorf("A weight = %+v, want 0.667", got[0])
	}
	if got[1].SourceID != "C" || math.Abs(got[1].Weight-1.0/3.0) > 1e-9 {
		t.Errorf("C weight = %+v, want 0.333", got[1])
	}
}

func TestEvaluate_NoSources(t *testing.T) {
	res, err := mustEngine(t, testParams()).Evaluate(Input{Symbol: "AAPL", Regime: domain.RegimeBull, Price: 100, AsOf: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Signal != nil || res.Skip != SkipNoSources {
		t.Errorf("expected no signal with SkipNoSources, got %+v", res)
	}
}

func TestEvaluate_UnweightedSourcesOnly(t *testing.T) {
	res, err := mustEngine(t, testParams()).Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 100, AsOf: 1,
		Sources: []*domain.SourceSignal{src("unknown", 1, 100)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Signal != nil || res.Skip != SkipNoWeight {
		t.Errorf("expected SkipNoWeight, got %+v", res)
	}
}

func TestEvaluate_BuySignal(t *testing.T) {
	e := mustEngine(t, testParams())
	res, err := e.Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 100, AsOf: 1_700_000_000_000,
		Sources: []*domain.SourceSignal{src("C", 0.5, 70), src("A", 0.8, 90)},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	sig := res.Signal
	if sig == nil {
		t.Fatalf("expected signal, skip=%s", res.Skip)
	}

	// weights A=2/3, C=1/3
	wantScore := 0.8*2/3 + 0.5/3
	wantConf := 90*2.0/3 + 70.0/3
	if math.Abs(res.Score-wantScore) > 1e-9 || math.Abs(sig.Confidence-wantConf) > 1e-9 {
		t.Errorf("score/conf = %v/%v, want %v/%v", res.Score, sig.Confidence, wantScore, wantConf)
	}
	if sig.Action != domain.ActionBuy {
		t.Errorf("Action = %s, want BUY", sig.Action)
	}
	if math.Abs(sig.StopPrice-98) > 1e-9 || math.Abs(sig.TargetPrice-104) > 1e-9 {
		t.Errorf("levels = %v/%v, want 98/104", sig.StopPrice, sig.TargetPrice)
	}
	if sig.CreatedAt != 1_700_000_000_000 || sig.Regime != domain.RegimeBull {
		t.Errorf("unexpected metadata: %+v", sig)
	}
	if !idhash.VerifySignalHash(sig) {
		t.Error("integrity hash does not verify")
	}
	if sig.ContributingSources[0].SourceID != "A" {
		t.Errorf("sources not ordered: %+v", sig.ContributingSources)
	}
}

func TestEvaluate_SingleSourceDegradedMode(t *testing.T) {
	res, err := mustEngine(t, testParams()).Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 50, AsOf: 1,
		Sources: []*domain.SourceSignal{src("B", -0.7, 75)},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Signal == nil {
		t.Fatalf("single responding source should still produce a signal, skip=%s", res.Skip)
	}
	if res.Signal.Action != domain.ActionSell {
		t.Errorf("Action = %s, want SELL", res.Signal.Action)
	}
	if res.Signal.StopPrice <= 50 || res.Signal.TargetPrice >= 50 {
		t.Errorf("SELL levels inverted: stop %v target %v", res.Signal.StopPrice, res.Signal.TargetPrice)
	}
	if len(res.Signal.ContributingSources) != 1 || res.Signal.ContributingSources[0].Weight != 1 {
		t.Errorf("expected B at full weight, got %+v", res.Signal.ContributingSources)
	}
}

func TestEvaluate_RegimeThresholds(t *testing.T) {
	e := mustEngine(t, testParams())
	sources := []*domain.SourceSignal{src("A", 0.6, 68), src("B", 0.6, 68), src("C", 0.6, 68)}

	tests := []struct {
		regime     domain.Regime
		wantSignal bool
	}{
		{domain.RegimeBull, true},    // 68 >= 60
		{domain.RegimeBear, false},   // 61.2 < 70
		{domain.RegimeChop, false},   // 57.8 < 70
		{domain.RegimeCrisis, false}, // 47.6 < 85
	}
	for _, tt := range tests {
		res, err := e.Evaluate(Input{Symbol: "AAPL", Regime: tt.regime, Price: 100, AsOf: 1, Sources: sources})
		if err != nil {
			t.Fatalf("%s: %v", tt.regime, err)
		}
		if (res.Signal != nil) != tt.wantSignal {
			t.Errorf("%s: signal=%v, want %v (conf %v threshold %v)", tt.regime, res.Signal != nil, tt.wantSignal, res.Confidence, res.Threshold)
		}
		if !tt.wantSignal && res.Skip != SkipBelowThreshold {
			t.Errorf("%s: skip = %s, want below_threshold", tt.regime, res.Skip)
		}
	}
}

func TestEvaluate_CrisisWidensStops(t *testing.T) {
	p := testParams()
	p.Regimes[domain.RegimeCrisis] = RegimeProfile{ThresholdOffset: 0, ConfidenceMultiplier: 1, StopWidening: 1.5}
	res, err := mustEngine(t, p).Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeCrisis, Price: 100, AsOf: 1,
		Sources: []*domain.SourceSignal{src("A", 0.9, 95)},
	})
	if err != nil || res.Signal == nil {
		t.Fatalf("expected signal: %v %+v", err, res)
	}
	if math.Abs(res.Signal.StopPrice-97) > 1e-9 {
		t.Errorf("StopPrice = %v, want 97 (3%% stop)", res.Signal.StopPrice)
	}
}

func TestEvaluate_Neutral(t *testing.T) {
	res, err := mustEngine(t, testParams()).Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 100, AsOf: 1,
		Sources: []*domain.SourceSignal{src("A", 0.5, 90), src("B", -0.45, 90)},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Signal != nil || res.Skip != SkipNeutral {
		t.Errorf("expected neutral skip, got %+v", res)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := mustEngine(t, testParams())
	in := Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 187.25, AsOf: 1_700_000_000_000,
		Sources: []*domain.SourceSignal{src("A", 0.7, 80), src("B", 0.4, 65), src("C", 0.9, 88)},
	}
	first, err := e.Evaluate(in)
	if err != nil || first.Signal == nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// Same input in a different order
	in.Sources = []*domain.SourceSignal{in.Sources[2], in.Sources[0], in.Sources[1]}
	second, err := e.Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !reflect.DeepEqual(first.Signal, second.Signal) {
		t.Errorf("signals differ:\n%+v\n%+v", first.Signal, second.Signal)
	}
}

func TestEvaluate_InvalidPrice(t *testing.T) {
	_, err := mustEngine(t, testParams()).Evaluate(Input{
		Symbol: "AAPL", Regime: domain.RegimeBull, Price: 0, AsOf: 1,
		Sources: []*domain.SourceSignal{src("A", 0.9, 95)},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
