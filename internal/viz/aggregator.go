// Package viz implements the visualization adapter of spec.md §4.7: a
// thin wrapper over an external renderer that enforces input aggregation
// and the output size budget (C9). Chart-type selection and chart layout
// stay out of core, per spec.md §1 - this package only shapes the input
// down to size and measures the renderer's output against the cap.
package viz

import (
	"sort"
	"time"
)

// defaultTopNCategories bounds how many distinct categorical values
// survive aggregation, matching
// original_source/visualization/generator.py::_aggregate_data's
// `nlargest(50)`.
const defaultTopNCategories = 50

// Aggregator reduces a row set to at most MaxDataPoints rows before it is
// handed to the renderer (spec.md §4.7: "the adapter performs aggregation
// before rendering"), grounded on generator.py's `_aggregate_data`:
// time-bucketing when a date column is present, top-N when categorical,
// uniform sampling as a last resort.
type Aggregator struct {
	MaxDataPoints int
}

// NewAggregator builds an Aggregator bounded to maxDataPoints. A
// non-positive value disables aggregation (Aggregate becomes a passthrough).
func NewAggregator(maxDataPoints int) *Aggregator {
	return &Aggregator{MaxDataPoints: maxDataPoints}
}

// Aggregate downsamples rows to at most a.MaxDataPoints, returning the
// (possibly unchanged) rows and whether aggregation actually ran.
func (a *Aggregator) Aggregate(rows []map[string]any) ([]map[string]any, bool) {
	if a.MaxDataPoints <= 0 || len(rows) <= a.MaxDataPoints {
		return rows, false
	}

	dateCol, numCols, catCol := classifyColumns(rows)

	out := rows
	switch {
	case dateCol != "" && len(numCols) > 0:
		out = bucketByTime(rows, dateCol, numCols)
	case catCol != "":
		out = topNCategories(rows, catCol, numCols, defaultTopNCategories)
	}

	if len(out) > a.MaxDataPoints {
		out = uniformSample(out, a.MaxDataPoints)
	}
	return out, true
}

// classifyColumns inspects the first row to guess a date column, the set
// of numeric columns, and a single categorical column - a lightweight
// stand-in for pandas' select_dtypes, since internal/viz has no DataFrame
// and only needs "good enough" column roles to pick an aggregation
// strategy.
func classifyColumns(rows []map[string]any) (dateCol string, numCols []string, catCol string) {
	if len(rows) == 0 {
		return "", nil, ""
	}
	sample := rows[0]
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic column order for reproducible aggregation

	for _, k := range keys {
		switch sample[k].(type) {
		case time.Time:
			if dateCol == "" {
				dateCol = k
			}
		case float64, int, int64:
			numCols = append(numCols, k)
		case string:
			if dateCol == "" {
				if _, err := time.Parse(time.RFC3339, sample[k].(string)); err == nil {
					dateCol = k
					continue
				}
			}
			if catCol == "" {
				catCol = k
			}
		}
	}
	return dateCol, numCols, catCol
}

// bucketTimeDuration picks a resample granularity from the date range the
// same way generator.py does: monthly past two years, weekly past ninety
// days, daily otherwise.
func bucketTimeDuration(span time.Duration) time.Duration {
	switch {
	case span > 365*2*24*time.Hour:
		return 30 * 24 * time.Hour
	case span > 90*24*time.Hour:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func rowTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339, x)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func bucketByTime(rows []map[string]any, dateCol string, numCols []string) []map[string]any {
	var minT, maxT time.Time
	parsed := make([]time.Time, len(rows))
	for i, r := range rows {
		t, ok := rowTime(r[dateCol])
		if !ok {
			continue
		}
		parsed[i] = t
		if minT.IsZero() || t.Before(minT) {
			minT = t
		}
		if maxT.IsZero() || t.After(maxT) {
			maxT = t
		}
	}
	if minT.IsZero() {
		return rows
	}

	bucketSize := bucketTimeDuration(maxT.Sub(minT))
	buckets := make(map[int64]map[string]any)
	order := make([]int64, 0)

	for i, r := range rows {
		t := parsed[i]
		if t.IsZero() {
			continue
		}
		key := t.Unix() / int64(bucketSize.Seconds())
		b, ok := buckets[key]
		if !ok {
			b = map[string]any{dateCol: t.Truncate(bucketSize)}
			for _, nc := range numCols {
				b[nc] = 0.0
			}
			buckets[key] = b
			order = append(order, key)
		}
		for _, nc := range numCols {
			b[nc] = toFloat(b[nc]) + toFloat(r[nc])
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]map[string]any, len(order))
	for i, k := range order {
		out[i] = buckets[k]
	}
	return out
}

func topNCategories(rows []map[string]any, catCol string, numCols []string, n int) []map[string]any {
	weightCol := ""
	if len(numCols) > 0 {
		weightCol = numCols[0]
	}

	totals := make(map[string]float64)
	order := make([]string, 0)
	for _, r := range rows {
		cat := toString(r[catCol])
		if _, seen := totals[cat]; !seen {
			order = append(order, cat)
		}
		if weightCol != "" {
			totals[cat] += toFloat(r[weightCol])
		} else {
			totals[cat]++
		}
	}

	sort.Slice(order, func(i, j int) bool { return totals[order[i]] > totals[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	keep := make(map[string]bool, len(order))
	for _, c := range order {
		keep[c] = true
	}

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if keep[toString(r[catCol])] {
			out = append(out, r)
		}
	}
	return out
}

// uniformSample picks n evenly spaced rows, a deterministic stand-in for
// generator.py's `df.sample(n, random_state=42)` - a fixed stride gives
// the same reproducibility a fixed random seed does, without needing a
// source of randomness at all.
func uniformSample(rows []map[string]any, n int) []map[string]any {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	out := make([]map[string]any, 0, n)
	stride := float64(len(rows)) / float64(n)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		out = append(out, rows[idx])
	}
	return out
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
