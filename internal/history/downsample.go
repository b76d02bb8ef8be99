// Package history compresses persisted yield batches into per-asset,
// time-bucketed average series for charting.
package history

import (
	"math"
	"sort"
	"time"

	"github.com/yourorg/lendyield-api/internal/model"
)

// Downsample produces one aggregated series per asset from a window of
// batches. Batches already collected at day granularity pass through
// unchanged (the mean of a single value is itself); finer-grained batches are
// re-bucketed onto UTC calendar days. Both paths emit the same shape, so
// charting stays agnostic to the collection cadence.
func Downsample(batches []model.YieldBatch, days int, now time.Time) []model.AggregatedSeries {
	windowed := window(batches, days, now)
	if len(windowed) == 0 {
		return nil
	}

	if windowed[0].Granularity == model.GranularityDay {
		return PassThrough(windowed, days)
	}
	return RebucketDaily(windowed)
}

// window keeps batches whose collection time falls inside the lookback
// window ending at the start of the current UTC day, sorted ascending.
func window(batches []model.YieldBatch, days int, now time.Time) []model.YieldBatch {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -days)

	kept := make([]model.YieldBatch, 0, len(batches))
	for _, b := range batches {
		at := b.CollectedAt.UTC()
		if at.After(from) && !at.After(today) {
			kept = append(kept, b)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CollectedAt.Before(kept[j].CollectedAt)
	})
	return kept
}

// PassThrough selects the most recent maxPoints records per asset from
// already day-bucketed batches, ascending by time.
func PassThrough(batches []model.YieldBatch, maxPoints int) []model.AggregatedSeries {
	series, order := collect(batches, func(at time.Time) time.Time { return at.UTC() })

	out := make([]model.AggregatedSeries, 0, len(order))
	for _, name := range order {
		s := *series[name]
		if maxPoints > 0 && len(s.Supply) > maxPoints {
			s.Supply = s.Supply[len(s.Supply)-maxPoints:]
			s.Borrow = s.Borrow[len(s.Borrow)-maxPoints:]
			s.Price = s.Price[len(s.Price)-maxPoints:]
		}
		out = append(out, s)
	}
	return out
}

// RebucketDaily groups finer-grained batches by UTC calendar day and averages
// supply, borrow, and price per asset per day. Days with no batch produce no
// point; values are never synthesized or interpolated.
func RebucketDaily(batches []model.YieldBatch) []model.AggregatedSeries {
	type bucket struct {
		supply, borrow, price float64
		count                 int
	}

	buckets := make(map[string]map[time.Time]*bucket)
	var order []string

	for _, b := range batches {
		at := b.CollectedAt.UTC()
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

		for _, y := range b.Assets {
			if y.Error != "" {
				continue
			}
			perDay, ok := buckets[y.Asset]
			if !ok {
				perDay = make(map[time.Time]*bucket)
				buckets[y.Asset] = perDay
				order = append(order, y.Asset)
			}

			acc, ok := perDay[day]
			if !ok {
				acc = &bucket{}
				perDay[day] = acc
			}
			acc.supply += y.Supply
			acc.borrow += y.Borrow
			acc.price += y.Price
			acc.count++
		}
	}

	out := make([]model.AggregatedSeries, 0, len(order))
	for _, name := range order {
		perDay := buckets[name]

		days := make([]time.Time, 0, len(perDay))
		for day := range perDay {
			days = append(days, day)
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

		s := model.AggregatedSeries{Name: name}
		for _, day := range days {
			acc := perDay[day]
			n := float64(acc.count)
			s.Supply = append(s.Supply, model.SeriesPoint{Time: day, Value: acc.supply / n})
			s.Borrow = append(s.Borrow, model.SeriesPoint{Time: day, Value: acc.borrow / n})
			s.Price = append(s.Price, model.SeriesPoint{Time: day, Value: acc.price / n})
		}
		out = append(out, s)
	}
	return out
}

// collect flattens batches into one series per asset, keyed by the given
// bucket function, preserving first-seen asset order.
func collect(batches []model.YieldBatch, bucketOf func(time.Time) time.Time) (map[string]*model.AggregatedSeries, []string) {
	series := make(map[string]*model.AggregatedSeries)
	var order []string

	for _, b := range batches {
		at := bucketOf(b.CollectedAt)
		for _, y := range b.Assets {
			if y.Error != "" {
				continue
			}
			s, ok := series[y.Asset]
			if !ok {
				s = &model.AggregatedSeries{Name: y.Asset}
				series[y.Asset] = s
				order = append(order, y.Asset)
			}
			s.Supply = append(s.Supply, model.SeriesPoint{Time: at, Value: y.Supply})
			s.Borrow = append(s.Borrow, model.SeriesPoint{Time: at, Value: y.Borrow})
			s.Price = append(s.Price, model.SeriesPoint{Time: at, Value: y.Price})
		}
	}
	return series, order
}

// RoundPercent converts a full-precision ratio into a truncated two-decimal
// percentage for the presentation boundary (0.05234 -> 5.23). The engine
// itself always returns full-precision ratios.
func RoundPercent(v float64) float64 {
	return math.Trunc(v*10000) / 100
}

// ChartSeries returns presentation copies of the supply and borrow series
// with values rounded to two decimal places of percentage. Price series are
// dropped: the chart layer only renders rates.
func ChartSeries(series []model.AggregatedSeries) []model.AggregatedSeries {
	out := make([]model.AggregatedSeries, 0, len(series))
	for _, s := range series {
		rounded := model.AggregatedSeries{Name: s.Name}
		for _, p := range s.Supply {
			rounded.Supply = append(rounded.Supply, model.SeriesPoint{Time: p.Time, Value: RoundPercent(p.Value)})
		}
		for _, p := range s.Borrow {
			rounded.Borrow = append(rounded.Borrow, model.SeriesPoint{Time: p.Time, Value: RoundPercent(p.Value)})
		}
		out = append(out, rounded)
	}
	return out
}
