package pos

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica/internal/inventory"
)

// fakeRepo is an in-memory RepositoryPort/TxRepository. WithTx serialises
// callers and restores a snapshot when the callback fails, which mirrors the
// locking and rollback behaviour of the real repository closely enough for
// service-level tests, including concurrent ones.
type fakeRepo struct {
	mu       sync.Mutex
	products map[int64]inventory.Product
	lots     map[int64]inventory.Lot
	sales    map[uuid.UUID]Sale
	lines    map[uuid.UUID][]SaleLine
	nextLine int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products: map[int64]inventory.Product{},
		lots:     map[int64]inventory.Lot{},
		sales:    map[uuid.UUID]Sale{},
		lines:    map[uuid.UUID][]SaleLine{},
	}
}

func clone[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	products, lots, sales, lines := clone(f.products), clone(f.lots), clone(f.sales), clone(f.lines)
	if err := fn(ctx, f); err != nil {
		f.products, f.lots, f.sales, f.lines = products, lots, sales, lines
		return err
	}
	return nil
}

func (f *fakeRepo) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sale, ok := f.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	sale.Lines = f.lines[id]
	return sale, nil
}

func (f *fakeRepo) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sales []Sale
	for id, sale := range f.sales {
		if filter.Voided != nil && sale.Voided != *filter.Voided {
			continue
		}
		sale.Lines = f.lines[id]
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].SoldAt.After(sales[j].SoldAt) })
	return sales, len(sales), nil
}

func (f *fakeRepo) GetProductForUpdate(ctx context.Context, productID int64) (inventory.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeRepo) LotsForUpdate(ctx context.Context, productID int64) ([]inventory.Lot, error) {
	var lots []inventory.Lot
	for _, lot := range f.lots {
		if lot.ProductID == productID {
			lots = append(lots, lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ExpiryDate.Equal(lots[j].ExpiryDate) {
			return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

func (f *fakeRepo) UpdateLotStock(ctx context.Context, lot inventory.Lot) error {
	f.lots[lot.ID] = lot
	return nil
}

func (f *fakeRepo) SetProductActive(ctx context.Context, productID int64, active bool) error {
	p := f.products[productID]
	p.Active = active
	f.products[productID] = p
	return nil
}

func (f *fakeRepo) InsertSale(ctx context.Context, sale Sale) error {
	sale.Lines = nil
	f.sales[sale.ID] = sale
	return nil
}

func (f *fakeRepo) InsertSaleLines(ctx context.Context, lines []SaleLine) ([]SaleLine, error) {
	for i := range lines {
		f.nextLine++
		lines[i].ID = f.nextLine
		f.lines[lines[i].SaleID] = append(f.lines[lines[i].SaleID], lines[i])
	}
	return lines, nil
}

func (f *fakeRepo) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	sale, ok := f.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (f *fakeRepo) MarkSaleVoided(ctx context.Context, id uuid.UUID) error {
	sale := f.sales[id]
	sale.Voided = true
	f.sales[id] = sale
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	recorded int
	voided   int
	rejected int
}

func (m *fakeMetrics) SaleRecorded(total int64, lines int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded++
}

func (m *fakeMetrics) SaleVoided() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voided++
}

func (m *fakeMetrics) AllocationRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func newTestService(repo *fakeRepo, metrics MetricsPort, cfg ServiceConfig) *Service {
	svc := NewService(repo, nil, metrics, cfg)
	svc.now = func() time.Time { return day("2025-06-01") }
	return svc
}

func seedSaleFixture(repo *fakeRepo) {
	repo.products[1] = inventory.Product{ID: 1, Name: "Paracetamol 500mg", SalePrice: 1990, Active: true}
	repo.lots[1] = inventory.Lot{ID: 1, ProductID: 1, LotCode: "A", CreatedDate: day("2025-01-01"), ExpiryDate: day("2026-03-01"), Quantity: 5, Active: true}
	repo.lots[2] = inventory.Lot{ID: 2, ProductID: 1, LotCode: "B", CreatedDate: day("2025-02-01"), ExpiryDate: day("2026-06-01"), Quantity: 10, Active: true}
}

func TestRecordSaleSplitsAcrossLotsInExpiryOrder(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	svc := newTestService(repo, nil, ServiceConfig{})

	sale, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 8}})
	require.NoError(t, err)
	require.Equal(t, int64(42), sale.UserID)
	require.Equal(t, int64(8*1990), sale.Total)
	require.Len(t, sale.Lines, 2)
	require.Equal(t, int64(1), sale.Lines[0].LotID)
	require.Equal(t, 5, sale.Lines[0].Quantity)
	require.Equal(t, int64(2), sale.Lines[1].LotID)
	require.Equal(t, 3, sale.Lines[1].Quantity)
	for _, line := range sale.Lines {
		require.Equal(t, int64(1990), line.UnitPrice)
		require.Equal(t, int64(line.Quantity)*line.UnitPrice, line.Subtotal)
	}

	// The drained first lot is deactivated by the write path.
	require.Equal(t, 0, repo.lots[1].Quantity)
	require.False(t, repo.lots[1].Active)
	require.Equal(t, 7, repo.lots[2].Quantity)
	require.True(t, repo.products[1].Active, "second lot still holds stock")
}

func TestRecordSaleFreezesUnitPrice(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	svc := newTestService(repo, nil, ServiceConfig{})

	sale, err := svc.RecordSale(context.Background(), 42, PaymentDebit, []LineRequest{{ProductID: 1, Quantity: 2}})
	require.NoError(t, err)

	// A later price change must not rewrite history.
	p := repo.products[1]
	p.SalePrice = 2990
	repo.products[1] = p

	got, err := svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1990), got.Lines[0].UnitPrice)
	require.Equal(t, int64(2*1990), got.Total)
}

func TestRecordSaleSameProductLinesShareWorkingSet(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	svc := newTestService(repo, nil, ServiceConfig{})

	sale, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{
		{ProductID: 1, Quantity: 4},
		{ProductID: 1, Quantity: 4},
	})
	require.NoError(t, err)
	require.Equal(t, int64(8*1990), sale.Total)

	// Second line continues where the first stopped instead of re-reading
	// the original quantities.
	require.Equal(t, 0, repo.lots[1].Quantity)
	require.Equal(t, 7, repo.lots[2].Quantity)
}

func TestRecordSaleMultiLineAtomicity(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	repo.products[2] = inventory.Product{ID: 2, Name: "Ibuprofeno 400mg", SalePrice: 2490, Active: true}
	repo.lots[3] = inventory.Lot{ID: 3, ProductID: 2, LotCode: "C", CreatedDate: day("2025-01-01"), ExpiryDate: day("2026-01-01"), Quantity: 1, Active: true}
	metrics := &fakeMetrics{}
	svc := newTestService(repo, metrics, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 5},
	})
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, int64(2), insufficientErr.ProductID)
	require.Equal(t, 5, insufficientErr.Requested)
	require.Equal(t, 1, insufficientErr.Available)

	// The satisfiable first line must not have left any trace.
	require.Equal(t, 5, repo.lots[1].Quantity)
	require.Equal(t, 10, repo.lots[2].Quantity)
	require.Equal(t, 1, repo.lots[3].Quantity)
	require.Empty(t, repo.sales)
	require.Equal(t, 1, metrics.rejected)
	require.Equal(t, 0, metrics.recorded)
}

func TestRecordSaleExpiredStockPolicy(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = inventory.Product{ID: 1, Name: "Amoxicilina 500mg", SalePrice: 3500, Active: true}
	repo.lots[1] = inventory.Lot{ID: 1, ProductID: 1, LotCode: "OLD", CreatedDate: day("2024-01-01"), ExpiryDate: day("2025-01-01"), Quantity: 20, Active: true}

	svc := newTestService(repo, nil, ServiceConfig{})
	_, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 1}})
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, 0, insufficientErr.Available)

	svc = newTestService(repo, nil, ServiceConfig{AllowExpiredSale: true})
	sale, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(3500), sale.Total)
}

func TestRecordSaleValidation(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	svc := newTestService(repo, nil, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), 0, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, ErrAnonymousSale)

	_, err = svc.RecordSale(context.Background(), 42, "CHEQUE", []LineRequest{{ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, ErrUnknownPaymentMethod)

	_, err = svc.RecordSale(context.Background(), 42, PaymentCash, nil)
	require.ErrorIs(t, err, ErrEmptySale)

	_, err = svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 0}})
	require.ErrorIs(t, err, ErrZeroQuantity)

	_, err = svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 99, Quantity: 1}})
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestVoidSaleFlipsFlagWithoutRestock(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	metrics := &fakeMetrics{}
	svc := newTestService(repo, metrics, ServiceConfig{})

	sale, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 5}})
	require.NoError(t, err)
	require.Equal(t, 0, repo.lots[1].Quantity)

	require.NoError(t, svc.VoidSale(context.Background(), sale.ID))
	got, err := svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	require.True(t, got.Voided)
	require.Equal(t, 0, repo.lots[1].Quantity, "voiding never restores stock")

	require.ErrorIs(t, svc.VoidSale(context.Background(), sale.ID), ErrSaleAlreadyVoided)
	require.ErrorIs(t, svc.VoidSale(context.Background(), uuid.New()), ErrSaleNotFound)
	require.Equal(t, 1, metrics.voided)
}

func TestRecordSaleConcurrentNoOversell(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = inventory.Product{ID: 1, Name: "Losartán 50mg", SalePrice: 4990, Active: true}
	repo.lots[1] = inventory.Lot{ID: 1, ProductID: 1, LotCode: "A", CreatedDate: day("2025-01-01"), ExpiryDate: day("2026-01-01"), Quantity: 10, Active: true}
	svc := newTestService(repo, nil, ServiceConfig{})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 6}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one of the competing sales must be refused")
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, failures[0], &insufficientErr)
	require.Equal(t, 6, insufficientErr.Requested)
	require.Equal(t, 4, insufficientErr.Available)
	require.Equal(t, 4, repo.lots[1].Quantity)
	require.Len(t, repo.sales, 1)
}

func TestListSalesFiltersVoided(t *testing.T) {
	repo := newFakeRepo()
	seedSaleFixture(repo)
	svc := newTestService(repo, nil, ServiceConfig{})

	first, err := svc.RecordSale(context.Background(), 42, PaymentCash, []LineRequest{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	_, err = svc.RecordSale(context.Background(), 42, PaymentDebit, []LineRequest{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, svc.VoidSale(context.Background(), first.ID))

	voided := true
	sales, total, err := svc.ListSales(context.Background(), SaleFilter{Voided: &voided})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, first.ID, sales[0].ID)
}
