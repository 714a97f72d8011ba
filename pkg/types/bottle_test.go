package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBottleRecordScan(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Bottle{}

	b.RecordScan(t0)
	assert.Equal(t, 1, b.ScanCount)
	assert.Equal(t, t0, b.FirstScannedAt)
	assert.Equal(t, t0, b.LastScannedAt)

	b.RecordScan(t0.Add(time.Hour))
	assert.Equal(t, 2, b.ScanCount)
	assert.Equal(t, t0, b.FirstScannedAt)
	assert.Equal(t, t0.Add(time.Hour), b.LastScannedAt)

	// A clock step backwards never moves LastScannedAt before FirstScannedAt.
	b.RecordScan(t0.Add(-time.Hour))
	assert.Equal(t, 3, b.ScanCount)
	assert.False(t, b.LastScannedAt.Before(b.FirstScannedAt))
}

func TestBottleValidate(t *testing.T) {
	now := time.Now()
	valid := func() *Bottle {
		return &Bottle{
			BottleToken:    "qr_AAAAAAAAAAAAAAAAAAAAAA",
			ProductID:      "p-1",
			ProductName:    "Product",
			FirstScannedAt: now,
			LastScannedAt:  now,
			ScanCount:      1,
		}
	}

	assert.NoError(t, valid().Validate())

	b := valid()
	b.BottleToken = " "
	assert.True(t, errors.Is(b.Validate(), ErrValidation))

	b = valid()
	b.ScanCount = 0
	assert.ErrorIs(t, b.Validate(), ErrValidation)

	b = valid()
	b.LastScannedAt = now.Add(-time.Minute)
	assert.ErrorIs(t, b.Validate(), ErrValidation)
}
