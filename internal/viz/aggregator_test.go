package viz

import (
	"testing"
	"time"
)

func TestAggregatePassesThroughUnderLimit(t *testing.T) {
	agg := NewAggregator(100)
	rows := []map[string]any{{"x": 1.0}, {"x": 2.0}}
	out, aggregated := agg.Aggregate(rows)
	if aggregated {
		t.Fatal("expected no aggregation under the limit")
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
}

func TestAggregateBucketsTimeSeriesByDay(t *testing.T) {
	agg := NewAggregator(5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]map[string]any, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, map[string]any{
			"ts":     base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"amount": 1.0,
		})
	}

	out, aggregated := agg.Aggregate(rows)
	if !aggregated {
		t.Fatal("expected aggregation to run")
	}
	if len(out) > 5 {
		t.Fatalf("len = %d, want at most 5 after bucketing+sampling", len(out))
	}
	var total float64
	for _, r := range out {
		total += r["amount"].(float64)
	}
	if total != 20 {
		t.Fatalf("total amount after bucketing = %v, want 20 (sums must be preserved)", total)
	}
}

func TestAggregateKeepsTopCategoriesByWeight(t *testing.T) {
	agg := NewAggregator(2)
	rows := []map[string]any{
		{"region": "us", "revenue": 100.0},
		{"region": "eu", "revenue": 50.0},
		{"region": "apac", "revenue": 10.0},
	}
	out, aggregated := agg.Aggregate(rows)
	if !aggregated {
		t.Fatal("expected aggregation to run")
	}
	seen := map[string]bool{}
	for _, r := range out {
		seen[r["region"].(string)] = true
	}
	if !seen["us"] || !seen["eu"] {
		t.Fatalf("expected the two highest-revenue regions to survive, got %v", seen)
	}
	if seen["apac"] {
		t.Fatal("expected the lowest-revenue region to be dropped")
	}
}

func TestUniformSampleIsDeterministicAndBounded(t *testing.T) {
	rows := make([]map[string]any, 100)
	for i := range rows {
		rows[i] = map[string]any{"i": float64(i)}
	}
	out1 := uniformSample(rows, 10)
	out2 := uniformSample(rows, 10)
	if len(out1) != 10 {
		t.Fatalf("len = %d, want 10", len(out1))
	}
	for i := range out1 {
		if out1[i]["i"] != out2[i]["i"] {
			t.Fatal("expected uniform sampling to be deterministic across calls")
		}
	}
}
