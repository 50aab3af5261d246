package proration

import (
	"testing"

	"github.com/broadbandx/billing/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate_UpgradeMidCycle(t *testing.T) {
	// 50000 -> 80000 with 20 of 30 days remaining: round(30000 * 20/30)
	delta, err := Prorate(50000, 80000, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), delta)
}

func TestProrate_DowngradeYieldsCredit(t *testing.T) {
	delta, err := Prorate(80000, 50000, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(-20000), delta)
}

func TestProrate_ZeroDaysRemaining(t *testing.T) {
	delta, err := Prorate(50000, 80000, 0, 30)
	require.NoError(t, err)
	assert.Zero(t, delta)
}

func TestProrate_RoundsHalfAwayFromZero(t *testing.T) {
	// delta 25, 1 of 2 days -> 12.5 -> 13
	delta, err := Prorate(0, 25, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(13), delta)

	// credit direction: -12.5 -> -13
	delta, err = Prorate(25, 0, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(-13), delta)
}

func TestProrate_FullPeriod(t *testing.T) {
	delta, err := Prorate(0, 50000, 30, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), delta)
}

func TestProrate_InvalidInputs(t *testing.T) {
	_, err := Prorate(0, 100, 5, 0)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = Prorate(0, 100, -1, 30)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = Prorate(0, 100, 31, 30)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestRemainingCredit_CancellationRefund(t *testing.T) {
	// 50000-cent/30-day plan cancelled with 10 days used:
	// round(50000 * 20/30) = 33333
	credit, err := RemainingCredit(50000, 20, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(33333), credit)
}

func TestRemainingCredit_NegativePrice(t *testing.T) {
	_, err := RemainingCredit(-1, 10, 30)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestSegmentCharge_SplitsPeriod(t *testing.T) {
	first, err := SegmentCharge(50000, 15, 30)
	require.NoError(t, err)
	second, err := SegmentCharge(80000, 15, 30)
	require.NoError(t, err)

	assert.Equal(t, int64(25000), first)
	assert.Equal(t, int64(40000), second)
}
