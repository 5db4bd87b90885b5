package pos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica/internal/inventory"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testProduct() inventory.Product {
	return inventory.Product{ID: 1, Name: "Paracetamol 500mg", SalePrice: 1990, Active: true}
}

func TestAllocateWalksLotsInExpiryOrder(t *testing.T) {
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 3, ProductID: 1, Quantity: 30, Active: true, ExpiryDate: day("2027-01-01")},
		{ID: 1, ProductID: 1, Quantity: 5, Active: true, ExpiryDate: day("2026-03-01")},
		{ID: 2, ProductID: 1, Quantity: 10, Active: true, ExpiryDate: day("2026-06-01")},
	})

	consumptions, err := ws.allocate(12, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{
		{LotID: 1, QuantityTaken: 5, UnitPrice: 1990},
		{LotID: 2, QuantityTaken: 7, UnitPrice: 1990},
	}, consumptions)
}

func TestAllocateBreaksExpiryTiesByID(t *testing.T) {
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 9, ProductID: 1, Quantity: 10, Active: true, ExpiryDate: day("2026-03-01")},
		{ID: 4, ProductID: 1, Quantity: 10, Active: true, ExpiryDate: day("2026-03-01")},
	})

	consumptions, err := ws.allocate(15, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{
		{LotID: 4, QuantityTaken: 10, UnitPrice: 1990},
		{LotID: 9, QuantityTaken: 5, UnitPrice: 1990},
	}, consumptions)
}

func TestAllocateAllOrNothing(t *testing.T) {
	lots := []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 5, Active: true, ExpiryDate: day("2026-03-01")},
		{ID: 2, ProductID: 1, Quantity: 3, Active: true, ExpiryDate: day("2026-06-01")},
	}
	ws := newWorkingSet(testProduct(), lots)

	_, err := ws.allocate(9, day("2025-06-01"), false)
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, int64(1), insufficientErr.ProductID)
	require.Equal(t, 9, insufficientErr.Requested)
	require.Equal(t, 8, insufficientErr.Available)

	// A refused request leaves the working set untouched.
	for _, lot := range ws.lots {
		require.Equal(t, ws.orig[lot.ID].Quantity, lot.Quantity)
	}
	require.Empty(t, ws.taken)

	// The exact boundary still succeeds.
	consumptions, err := ws.allocate(8, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Len(t, consumptions, 2)
}

func TestAllocateSkipsIneligibleLots(t *testing.T) {
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 10, Active: false, ExpiryDate: day("2026-01-01")},
		{ID: 2, ProductID: 1, Quantity: 10, Active: true, Defective: true, ExpiryDate: day("2026-02-01")},
		{ID: 3, ProductID: 1, Quantity: 10, Active: true, ExpiryDate: day("2026-03-01")},
	})

	consumptions, err := ws.allocate(10, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{{LotID: 3, QuantityTaken: 10, UnitPrice: 1990}}, consumptions)
}

func TestAllocateExcludesExpiredLotsByDefault(t *testing.T) {
	lots := []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 10, Active: true, ExpiryDate: day("2025-01-01")},
		{ID: 2, ProductID: 1, Quantity: 4, Active: true, ExpiryDate: day("2026-01-01")},
	}

	ws := newWorkingSet(testProduct(), lots)
	_, err := ws.allocate(6, day("2025-06-01"), false)
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, 4, insufficientErr.Available, "expired stock does not count as available")

	// With the override the expired lot is first in line again.
	ws = newWorkingSet(testProduct(), lots)
	consumptions, err := ws.allocate(6, day("2025-06-01"), true)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{
		{LotID: 1, QuantityTaken: 6, UnitPrice: 1990},
	}, consumptions)
}

func TestAllocateLotExpiringTodayIsEligible(t *testing.T) {
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 3, Active: true, ExpiryDate: day("2025-06-01")},
	})

	consumptions, err := ws.allocate(3, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{{LotID: 1, QuantityTaken: 3, UnitPrice: 1990}}, consumptions)
}

func TestAllocateCompoundsAcrossLines(t *testing.T) {
	// Two lines of the same sale share one working set, so the second draw
	// sees the first one's decrements.
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 5, Active: true, ExpiryDate: day("2026-03-01")},
		{ID: 2, ProductID: 1, Quantity: 5, Active: true, ExpiryDate: day("2026-06-01")},
	})

	first, err := ws.allocate(4, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{{LotID: 1, QuantityTaken: 4, UnitPrice: 1990}}, first)

	second, err := ws.allocate(4, day("2025-06-01"), false)
	require.NoError(t, err)
	require.Equal(t, []LotConsumption{
		{LotID: 1, QuantityTaken: 1, UnitPrice: 1990},
		{LotID: 2, QuantityTaken: 3, UnitPrice: 1990},
	}, second)

	_, err = ws.allocate(3, day("2025-06-01"), false)
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, 2, insufficientErr.Available)
}

func TestWorkingSetActiveTracksDrainedLots(t *testing.T) {
	ws := newWorkingSet(testProduct(), []inventory.Lot{
		{ID: 1, ProductID: 1, Quantity: 5, Active: true, ExpiryDate: day("2026-03-01")},
	})
	require.True(t, ws.active())

	_, err := ws.allocate(5, day("2025-06-01"), false)
	require.NoError(t, err)
	require.False(t, ws.active(), "a fully drained only lot deactivates the product")
	require.Equal(t, []int64{1}, func() []int64 {
		var ids []int64
		for _, lot := range ws.touched() {
			ids = append(ids, lot.ID)
		}
		return ids
	}())
}
