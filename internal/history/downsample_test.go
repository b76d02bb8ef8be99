package history

import (
	"math"
	"testing"
	"time"

	"github.com/yourorg/lendyield-api/internal/model"
)

func point(asset string, supply, borrow, price float64) model.AssetYield {
	return model.AssetYield{Asset: asset, Supply: supply, Borrow: borrow, Price: price}
}

func batchAt(at time.Time, gran model.Granularity, assets ...model.AssetYield) model.YieldBatch {
	return model.YieldBatch{CollectedAt: at, Granularity: gran, Assets: assets}
}

func TestRebucketDailyAveragesWithinDay(t *testing.T) {
	day := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)

	// Two hourly collections on the same UTC day must average, not duplicate.
	batches := []model.YieldBatch{
		batchAt(day.Add(6*time.Hour), model.GranularityHour, point("SOL", 0.05, 0.10, 140)),
		batchAt(day.Add(18*time.Hour), model.GranularityHour, point("SOL", 0.07, 0.20, 160)),
	}

	series := RebucketDaily(batches)
	if len(series) != 1 {
		t.Fatalf("expected one asset series, got %d", len(series))
	}

	s := series[0]
	if s.Name != "SOL" {
		t.Errorf("expected SOL, got %s", s.Name)
	}
	if len(s.Supply) != 1 {
		t.Fatalf("expected one daily point, got %d", len(s.Supply))
	}
	if got := s.Supply[0].Value; math.Abs(got-0.06) > 1e-12 {
		t.Errorf("supply mean = %v, want 0.06", got)
	}
	if got := s.Borrow[0].Value; math.Abs(got-0.15) > 1e-12 {
		t.Errorf("borrow mean = %v, want 0.15", got)
	}
	if got := s.Price[0].Value; math.Abs(got-150) > 1e-9 {
		t.Errorf("price mean = %v, want 150", got)
	}
	if !s.Supply[0].Time.Equal(day) {
		t.Errorf("bucket time = %v, want midnight %v", s.Supply[0].Time, day)
	}
}

func TestRebucketDailySkipsMissingDays(t *testing.T) {
	day1 := time.Date(2022, 3, 10, 12, 0, 0, 0, time.UTC)
	day3 := time.Date(2022, 3, 12, 12, 0, 0, 0, time.UTC)

	batches := []model.YieldBatch{
		batchAt(day1, model.GranularityHour, point("SOL", 0.05, 0.10, 140)),
		batchAt(day3, model.GranularityHour, point("SOL", 0.07, 0.20, 160)),
	}

	series := RebucketDaily(batches)
	if len(series[0].Supply) != 2 {
		t.Fatalf("expected two daily points, missing days are never synthesized; got %d", len(series[0].Supply))
	}
	if !series[0].Supply[0].Time.Before(series[0].Supply[1].Time) {
		t.Error("points must be ascending by time")
	}
}

func TestPassThroughKeepsMostRecent(t *testing.T) {
	base := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

	var batches []model.YieldBatch
	for i := 0; i < 10; i++ {
		batches = append(batches, batchAt(base.AddDate(0, 0, i), model.GranularityDay,
			point("SOL", float64(i)/100, 0.1, 150)))
	}

	series := PassThrough(batches, 7)
	if len(series) != 1 {
		t.Fatalf("expected one series, got %d", len(series))
	}

	s := series[0]
	if len(s.Supply) != 7 {
		t.Fatalf("expected 7 points, got %d", len(s.Supply))
	}
	if s.Supply[0].Value != 0.03 {
		t.Errorf("oldest kept point = %v, want 0.03", s.Supply[0].Value)
	}
	if s.Supply[6].Value != 0.09 {
		t.Errorf("newest point = %v, want 0.09", s.Supply[6].Value)
	}
}

func TestDownsampleDispatchesByGranularity(t *testing.T) {
	now := time.Date(2022, 3, 10, 15, 0, 0, 0, time.UTC)
	yesterday := time.Date(2022, 3, 9, 12, 0, 0, 0, time.UTC)

	daily := []model.YieldBatch{
		batchAt(yesterday, model.GranularityDay, point("SOL", 0.05, 0.1, 150)),
	}
	series := Downsample(daily, 7, now)
	if len(series) != 1 || len(series[0].Supply) != 1 {
		t.Fatal("day batches must pass through unchanged")
	}
	if series[0].Supply[0].Value != 0.05 {
		t.Errorf("pass-through value = %v, want 0.05", series[0].Supply[0].Value)
	}

	hourly := []model.YieldBatch{
		batchAt(yesterday, model.GranularityHour, point("SOL", 0.05, 0.1, 150)),
		batchAt(yesterday.Add(time.Hour), model.GranularityHour, point("SOL", 0.07, 0.1, 150)),
	}
	series = Downsample(hourly, 7, now)
	if len(series[0].Supply) != 1 {
		t.Fatalf("hourly batches must re-bucket to one daily point, got %d", len(series[0].Supply))
	}
	if got := series[0].Supply[0].Value; math.Abs(got-0.06) > 1e-12 {
		t.Errorf("re-bucketed mean = %v, want 0.06", got)
	}
}

func TestDownsampleWindowExcludesOldBatches(t *testing.T) {
	now := time.Date(2022, 3, 10, 15, 0, 0, 0, time.UTC)

	batches := []model.YieldBatch{
		batchAt(now.AddDate(0, 0, -30), model.GranularityHour, point("SOL", 0.50, 0.1, 150)),
		batchAt(now.AddDate(0, 0, -1), model.GranularityHour, point("SOL", 0.05, 0.1, 150)),
	}

	series := Downsample(batches, 7, now)
	if len(series[0].Supply) != 1 {
		t.Fatalf("expected only the in-window batch, got %d points", len(series[0].Supply))
	}
	if series[0].Supply[0].Value != 0.05 {
		t.Errorf("kept value = %v, want 0.05", series[0].Supply[0].Value)
	}
}

func TestRebucketDailyIgnoresErrorRecords(t *testing.T) {
	day := time.Date(2022, 3, 10, 12, 0, 0, 0, time.UTC)

	batches := []model.YieldBatch{
		batchAt(day, model.GranularityHour,
			point("SOL", 0.06, 0.10, 150),
			model.AssetYield{Asset: "SRM", Error: "missing required data"}),
	}

	series := RebucketDaily(batches)
	if len(series) != 1 {
		t.Fatalf("error records must not produce a series, got %d", len(series))
	}
	if series[0].Name != "SOL" {
		t.Errorf("expected SOL series, got %s", series[0].Name)
	}
}

func TestDownsampleEmpty(t *testing.T) {
	if got := Downsample(nil, 7, time.Now()); got != nil {
		t.Errorf("expected nil for no batches, got %v", got)
	}
}

func TestRoundPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.05234, 5.23},
		{0.05239, 5.23}, // truncation, not rounding
		{0.0, 0.0},
		{-0.0123, -1.23},
		{1.0, 100.0},
	}
	for _, tt := range tests {
		if got := RoundPercent(tt.in); got != tt.want {
			t.Errorf("RoundPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChartSeriesRoundsAndDropsPrices(t *testing.T) {
	series := []model.AggregatedSeries{
		{
			Name:   "SOL",
			Supply: []model.SeriesPoint{{Time: time.Unix(0, 0), Value: 0.05234}},
			Borrow: []model.SeriesPoint{{Time: time.Unix(0, 0), Value: 0.10111}},
			Price:  []model.SeriesPoint{{Time: time.Unix(0, 0), Value: 150}},
		},
	}

	chart := ChartSeries(series)
	if chart[0].Supply[0].Value != 5.23 {
		t.Errorf("supply = %v, want 5.23", chart[0].Supply[0].Value)
	}
	if chart[0].Borrow[0].Value != 10.11 {
		t.Errorf("borrow = %v, want 10.11", chart[0].Borrow[0].Value)
	}
	if chart[0].Price != nil {
		t.Error("chart series must not carry prices")
	}
}
