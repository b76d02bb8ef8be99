package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lendyield-api/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBatch(at time.Time, gran model.Granularity) model.YieldBatch {
	return model.YieldBatch{
		CollectedAt: at,
		Granularity: gran,
		Assets: []model.AssetYield{
			{
				Asset:  "SOL",
				Price:  150.0,
				Supply: 0.021,
				Borrow: 0.053,
				SupplyRewards: []model.RewardComponent{
					{Token: "SLND", APY: 0.01},
				},
			},
			{
				Asset:          "USDC",
				Price:          1.0,
				Supply:         0.08,
				Borrow:         -0.02,
				BorrowNegative: true,
			},
		},
	}
}

func TestSaveAndLoadBatch(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2022, 3, 10, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBatch(sampleBatch(at, model.GranularityHour)))

	batches, err := s.BatchesSince(model.GranularityHour, at.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, at, b.CollectedAt)
	assert.Equal(t, model.GranularityHour, b.Granularity)
	require.Len(t, b.Assets, 2)

	sol := b.Assets[0]
	assert.Equal(t, "SOL", sol.Asset)
	assert.Equal(t, 150.0, sol.Price)
	require.Len(t, sol.SupplyRewards, 1)
	assert.Equal(t, "SLND", sol.SupplyRewards[0].Token)

	usdc := b.Assets[1]
	assert.True(t, usdc.BorrowNegative)
	assert.Equal(t, -0.02, usdc.Borrow)
}

func TestBatchesSinceFiltersGranularityAndTime(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBatch(sampleBatch(base, model.GranularityHour)))
	require.NoError(t, s.SaveBatch(sampleBatch(base.Add(time.Hour), model.GranularityHour)))
	require.NoError(t, s.SaveBatch(sampleBatch(base, model.GranularityDay)))

	batches, err := s.BatchesSince(model.GranularityHour, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, batches, 1, "older batches and other granularities are excluded")
	assert.Equal(t, base.Add(time.Hour), batches[0].CollectedAt)
}

func TestBatchesSinceAscendingOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)

	// Insert out of order; reads must come back ascending.
	require.NoError(t, s.SaveBatch(sampleBatch(base.Add(2*time.Hour), model.GranularityHour)))
	require.NoError(t, s.SaveBatch(sampleBatch(base, model.GranularityHour)))
	require.NoError(t, s.SaveBatch(sampleBatch(base.Add(time.Hour), model.GranularityHour)))

	batches, err := s.BatchesSince(model.GranularityHour, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.True(t, batches[0].CollectedAt.Before(batches[1].CollectedAt))
	assert.True(t, batches[1].CollectedAt.Before(batches[2].CollectedAt))
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBatch(sampleBatch(base, model.GranularityMinute)))
	require.NoError(t, s.SaveBatch(sampleBatch(base.Add(48*time.Hour), model.GranularityMinute)))

	n, err := s.Prune(model.GranularityMinute, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	batches, err := s.BatchesSince(model.GranularityMinute, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, base.Add(48*time.Hour), batches[0].CollectedAt)
}

func TestSaveBatchWithErrorRecord(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)

	batch := model.YieldBatch{
		CollectedAt: at,
		Granularity: model.GranularityHour,
		Assets: []model.AssetYield{
			{Asset: "FTT", Error: "empty pool"},
		},
	}
	require.NoError(t, s.SaveBatch(batch))

	batches, err := s.BatchesSince(model.GranularityHour, at.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "empty pool", batches[0].Assets[0].Error)
}
