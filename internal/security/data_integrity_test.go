package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lendyield-api/internal/model"
)

func TestSignAndVerify(t *testing.T) {
	svc, err := NewDataIntegrityService(time.Hour)
	require.NoError(t, err)

	payload := []model.AssetYield{
		{Asset: "SOL", Price: 150, Supply: 0.02, Borrow: 0.05},
	}

	signed, err := svc.SignPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, svc.PublicKey(), signed.Signature.PublicKey)

	ok, err := svc.VerifyPayload(signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	svc, err := NewDataIntegrityService(time.Hour)
	require.NoError(t, err)

	signed, err := svc.SignPayload(map[string]string{"asset": "SOL"})
	require.NoError(t, err)

	signed.Payload = []byte(`{"asset":"BTC"}`)
	ok, err := svc.VerifyPayload(signed)
	require.NoError(t, err)
	assert.False(t, ok, "modified payload must fail verification")
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	svc, err := NewDataIntegrityService(-time.Minute)
	require.NoError(t, err)

	signed, err := svc.SignPayload(map[string]string{"asset": "SOL"})
	require.NoError(t, err)

	_, err = svc.VerifyPayload(signed)
	assert.ErrorContains(t, err, "expired")
}
