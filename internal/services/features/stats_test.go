package features

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLogReturns(t *testing.T) {
	got := LogReturns([]float64{100, 110, 0, 121})
	if len(got) != 3 {
		t.Fatalf("expected 3 returns, got %d", len(got))
	}
	if !approx(got[0], math.Log(1.1)) {
		t.Fatalf("unexpected first return %v", got[0])
	}
	if got[1] != 0 || got[2] != 0 {
		t.Fatalf("expected zero returns around a zero price, got %v", got)
	}
	if LogReturns([]float64{1}) != nil {
		t.Fatalf("expected nil for a single price")
	}
}

func TestStdDevIsPopulation(t *testing.T) {
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if !approx(got, 2) {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestEWMAMatchesAdjustedWeights(t *testing.T) {
	// span 3 -> alpha 0.5; weights newest-first 1, 0.5, 0.25
	got := EWMA([]float64{1, 2, 3}, 3)
	want := (3*1 + 2*0.5 + 1*0.25) / (1 + 0.5 + 0.25)
	if !approx(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if EWMA(nil, 5) != 0 {
		t.Fatalf("expected 0 for empty series")
	}
}

func TestPearson(t *testing.T) {
	if got := Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}); !approx(got, 1) {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}); !approx(got, -1) {
		t.Fatalf("expected -1, got %v", got)
	}
	if got := Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for zero variance, got %v", got)
	}
}

func TestPercentileLinear(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50}
	if got := Percentile(vals, 50); got != 30 {
		t.Fatalf("median: expected 30, got %v", got)
	}
	// rank 0.95*4 = 3.8 -> 40 + 0.8*10
	if got := Percentile(vals, 95); !approx(got, 48) {
		t.Fatalf("p95: expected 48, got %v", got)
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.NaN()) != 0 || Finite(math.Inf(1)) != 0 || Finite(2) != 2 {
		t.Fatalf("finite mapping broken")
	}
}
