package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLotExpiry(t *testing.T) {
	today := date(2026, time.March, 15)

	undated := Lot{}
	require.False(t, undated.IsExpired(today))
	_, ok := undated.DaysToExpiry(today)
	require.False(t, ok)

	past := date(2026, time.March, 10)
	expired := Lot{ExpiryDate: &past}
	require.True(t, expired.IsExpired(today))
	days, ok := expired.DaysToExpiry(today)
	require.True(t, ok)
	require.Equal(t, -5, days)

	// Expiring today is still sellable today.
	sameDay := date(2026, time.March, 15)
	onEdge := Lot{ExpiryDate: &sameDay}
	require.False(t, onEdge.IsExpired(today))
	days, ok = onEdge.DaysToExpiry(today)
	require.True(t, ok)
	require.Equal(t, 0, days)

	future := date(2026, time.April, 14)
	fresh := Lot{ExpiryDate: &future}
	require.False(t, fresh.IsExpired(today))
	days, ok = fresh.DaysToExpiry(today)
	require.True(t, ok)
	require.Equal(t, 30, days)
}

func TestLotExpiresWithinWindow(t *testing.T) {
	today := date(2026, time.March, 15)

	soon := date(2026, time.March, 25)
	later := date(2026, time.April, 24)
	require.True(t, Lot{ExpiryDate: &soon}.ExpiresWithin(today, 30))
	require.False(t, Lot{ExpiryDate: &later}.ExpiresWithin(today, 30))
	require.False(t, Lot{}.ExpiresWithin(today, 30))

	// The window boundary is inclusive.
	edge := date(2026, time.April, 14)
	require.True(t, Lot{ExpiryDate: &edge}.ExpiresWithin(today, 30))
	require.False(t, Lot{ExpiryDate: &edge}.ExpiresWithin(today, 29))
}

func TestLotExpiryIgnoresTimeOfDay(t *testing.T) {
	expiry := time.Date(2026, time.March, 15, 8, 0, 0, 0, time.UTC)
	lot := Lot{ExpiryDate: &expiry}
	lateEvening := time.Date(2026, time.March, 15, 23, 30, 0, 0, time.UTC)
	require.False(t, lot.IsExpired(lateEvening))

	nextMorning := time.Date(2026, time.March, 16, 0, 30, 0, 0, time.UTC)
	require.True(t, lot.IsExpired(nextMorning))
}

func TestMovementKindValid(t *testing.T) {
	for _, kind := range []MovementKind{MovementLoad, MovementUnload, MovementAdjust, MovementTransfer} {
		require.True(t, kind.Valid(), string(kind))
	}
	require.False(t, MovementKind("RETURN").Valid())
	require.False(t, MovementKind("").Valid())
}
