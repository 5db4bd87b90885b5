package pos

import (
	"sort"
	"time"

	"github.com/botica-erp/botica/internal/inventory"
)

// workingSet is the in-transaction view of one product's lots. Sale lines
// that touch the same product within one sale allocate against the same set,
// so decrements compound instead of double-drawing from one lot.
type workingSet struct {
	product inventory.Product
	lots    []*inventory.Lot
	taken   map[int64]int
	orig    map[int64]inventory.Lot
}

func newWorkingSet(product inventory.Product, lots []inventory.Lot) *workingSet {
	ws := &workingSet{product: product, taken: make(map[int64]int), orig: make(map[int64]inventory.Lot)}
	for i := range lots {
		lot := lots[i]
		ws.orig[lot.ID] = lot
		ws.lots = append(ws.lots, &lot)
	}
	// First expired, first out: ascending expiry date, ties by id. The
	// repository returns rows in this order already; sorting again keeps the
	// walk deterministic regardless of the source.
	sort.SliceStable(ws.lots, func(i, j int) bool {
		a, b := ws.lots[i], ws.lots[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		return a.ID < b.ID
	})
	return ws
}

// allocate walks the eligible lots in FEFO order and consumes the requested
// quantity. It either satisfies the full request or mutates nothing and
// returns InsufficientStockError carrying the quantity actually available.
func (ws *workingSet) allocate(requested int, now time.Time, allowExpired bool) ([]LotConsumption, error) {
	available := 0
	for _, lot := range ws.lots {
		if ws.eligible(lot, now, allowExpired) {
			available += lot.Quantity
		}
	}
	if available < requested {
		return nil, &InsufficientStockError{ProductID: ws.product.ID, Requested: requested, Available: available}
	}

	var consumptions []LotConsumption
	remaining := requested
	for _, lot := range ws.lots {
		if remaining == 0 {
			break
		}
		if !ws.eligible(lot, now, allowExpired) {
			continue
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		lot.Quantity -= take
		ws.taken[lot.ID] += take
		remaining -= take
		consumptions = append(consumptions, LotConsumption{
			LotID:         lot.ID,
			QuantityTaken: take,
			UnitPrice:     ws.product.SalePrice,
		})
	}
	return consumptions, nil
}

func (ws *workingSet) eligible(lot *inventory.Lot, now time.Time, allowExpired bool) bool {
	if !lot.Sellable() {
		return false
	}
	if !allowExpired && lot.Expired(now) {
		return false
	}
	return true
}

// touched returns the lots drawn from, in ascending id order. The
// pre-allocation snapshot for the guard diff is kept in orig.
func (ws *workingSet) touched() []*inventory.Lot {
	var lots []*inventory.Lot
	for _, lot := range ws.lots {
		if ws.taken[lot.ID] > 0 {
			lots = append(lots, lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].ID < lots[j].ID })
	return lots
}

// active recomputes the derived product flag over the working lots.
func (ws *workingSet) active() bool {
	lots := make([]inventory.Lot, 0, len(ws.lots))
	for _, lot := range ws.lots {
		lots = append(lots, *lot)
	}
	return inventory.ProductActive(lots)
}
