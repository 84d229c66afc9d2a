package idhash

import (
	"testing"

	"trade-signal-pipeline/internal/domain"
)

func testSignal() *domain.Signal {
	return &domain.Signal{
		ID:          "sig-1",
		Symbol:      "BTC-USD",
		Action:      domain.ActionBuy,
		Regime:      domain.RegimeBull,
		EntryPrice:  100,
		StopPrice:   98,
		TargetPrice: 104,
		Confidence:  72.5,
		ContributingSources: []domain.SourceWeight{
			{SourceID: "momentum", Weight: 0.6},
			{SourceID: "rsi", Weight: 0.4},
		},
		CreatedAt: 1704067200000,
	}
}

func TestCanonicalSignal_Format(t *testing.T) {
	got := CanonicalSignal(testSignal())
	want := "sig-1|BTC-USD|BUY|BULL|100.00000000|98.00000000|104.00000000|72.50000000|momentum=0.60000000,rsi=0.40000000|1704067200000|"

	if got != want {
		t.Errorf("CanonicalSignal() =\n%s\nwant\n%s", got, want)
	}
}

func TestComputeSignalHash_Determinism(t *testing.T) {
	s := testSignal()

	first := ComputeSignalHash(s)
	if len(first) != 64 {
		t.Fatalf("hash length = %d, want 64", len(first))
	}
	for i := 0; i < 10; i++ {
		if got := ComputeSignalHash(testSignal()); got != first {
			t.Fatalf("iteration %d: hash %s != %s", i, got, first)
		}
	}
}

func TestComputeSignalHash_FieldMutation(t *testing.T) {
	base := ComputeSignalHash(testSignal())

	mutations := []struct {
		name   string
		mutate func(s *domain.Signal)
	}{
		{"id", func(s *domain.Signal) { s.ID = "sig-2" }},
		{"symbol", func(s *domain.Signal) { s.Symbol = "ETH-USD" }},
		{"action", func(s *domain.Signal) { s.Action = domain.ActionSell }},
		{"regime", func(s *domain.Signal) { s.Regime = domain.RegimeChop }},
		{"entry", func(s *domain.Signal) { s.EntryPrice = 100.00000001 }},
		{"stop", func(s *domain.Signal) { s.StopPrice = 97 }},
		{"target", func(s *domain.Signal) { s.TargetPrice = 105 }},
		{"confidence", func(s *domain.Signal) { s.Confidence = 72.4 }},
		{"source weight", func(s *domain.Signal) { s.ContributingSources[0].Weight = 0.59 }},
		{"source id", func(s *domain.Signal) { s.ContributingSources[1].SourceID = "trend" }},
		{"source order", func(s *domain.Signal) {
			s.ContributingSources[0], s.ContributingSources[1] = s.ContributingSources[1], s.ContributingSources[0]
		}},
		{"created_at", func(s *domain.Signal) { s.CreatedAt++ }},
		{"supersedes", func(s *domain.Signal) { s.SupersedesID = "sig-0" }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			s := testSignal()
			tt.mutate(s)
			if got := ComputeSignalHash(s); got == base {
				t.Errorf("mutating %s did not change the hash", tt.name)
			}
		})
	}
}

func TestComputeSignalHash_IgnoresStoredHash(t *testing.T) {
	s := testSignal()
	before := ComputeSignalHash(s)
	s.IntegrityHash = "anything"
	if got := ComputeSignalHash(s); got != before {
		t.Errorf("stored hash leaked into canonical form")
	}
}

func TestVerifySignalHash(t *testing.T) {
	s := testSignal()
	if VerifySignalHash(s) {
		t.Fatal("empty hash must not verify")
	}

	s.IntegrityHash = ComputeSignalHash(s)
	if !VerifySignalHash(s) {
		t.Fatal("freshly hashed signal must verify")
	}

	s.TargetPrice = 110
	if VerifySignalHash(s) {
		t.Error("tampered signal must not verify")
	}
}

func TestComputeSignalID(t *testing.T) {
	inputs := []*domain.SourceSignal{
		{SourceID: "momentum", DirectionalScore: 0.4, Confidence: 70},
		{SourceID: "rsi", DirectionalScore: 0.2, Confidence: 60},
	}

	id := ComputeSignalID("BTC-USD", 1704067200000, inputs)
	if id == "" {
		t.Fatal("empty id")
	}
	if got := ComputeSignalID("BTC-USD", 1704067200000, inputs); got != id {
		t.Errorf("ComputeSignalID() not deterministic: %s != %s", got, id)
	}
	if got := ComputeSignalID("BTC-USD", 1704067200001, inputs); got == id {
		t.Error("different created_at must yield a different id")
	}
	if got := ComputeSignalID("ETH-USD", 1704067200000, inputs); got == id {
		t.Error("different symbol must yield a different id")
	}
}
