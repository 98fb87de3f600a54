package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store"
)

func newTestStore() *Store {
	s := New()
	s.AddProduct(domain.Product{ID: "p1", Name: "Látex Blanco", Category: "pinturas", Price: decimal.NewFromInt(850), Quantity: 10})
	s.AddProduct(domain.Product{ID: "p2", Name: "Thinner", Category: "solventes", Price: decimal.NewFromInt(310), Quantity: 3})
	return s
}

func TestAdjustStockFloorsAtZero(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	applied, err := s.AdjustStock(ctx, "p2", -5)
	require.NoError(t, err)
	assert.Equal(t, -3, applied)

	p, err := s.GetProductByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)

	applied, err = s.AdjustStock(ctx, "p2", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, applied)

	_, err = s.AdjustStock(ctx, "missing", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateDocumentTracksAppliedPerLine(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, domain.Document{
		Kind:         domain.DocKindInvoice,
		CustomerName: "Cliente",
		Items: []domain.LineItem{
			{ProductID: "p1", Name: "Látex Blanco", Qty: 4, UnitPrice: decimal.NewFromInt(850)},
			{ProductID: "p2", Name: "Thinner", Qty: 5, UnitPrice: decimal.NewFromInt(310)},
			{Name: "Servicio de entintado", Qty: 1, UnitPrice: decimal.NewFromInt(75)},
		},
	})
	require.NoError(t, err)
	require.Len(t, doc.Items, 3)

	assert.Equal(t, 4, doc.Items[0].StockApplied)
	assert.Equal(t, 3, doc.Items[1].StockApplied, "only 3 of the requested 5 existed")
	assert.Equal(t, 0, doc.Items[2].StockApplied)

	p1, err := s.GetProductByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, p1.Quantity)
	p2, err := s.GetProductByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, p2.Quantity)
}

func TestCreateDocumentDowngradesDanglingReference(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, domain.Document{
		Kind:         domain.DocKindInvoice,
		CustomerName: "Cliente",
		Items: []domain.LineItem{
			{ProductID: "missing", Name: "Descatalogado", Qty: 2, UnitPrice: decimal.NewFromInt(10)},
		},
	})
	require.NoError(t, err)
	require.Len(t, doc.Items, 1)
	assert.Empty(t, doc.Items[0].ProductID)
	assert.Equal(t, 0, doc.Items[0].StockApplied)
}

func TestDeleteDocumentRestoresAppliedStock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, domain.Document{
		Kind:         domain.DocKindInvoice,
		CustomerName: "Cliente",
		Items: []domain.LineItem{
			{ProductID: "p2", Name: "Thinner", Qty: 5, UnitPrice: decimal.NewFromInt(310)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, domain.DocKindInvoice, doc.ID))

	p2, err := s.GetProductByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 3, p2.Quantity, "restore the 3 applied, not the 5 requested")

	assert.ErrorIs(t, s.DeleteDocument(ctx, domain.DocKindInvoice, doc.ID), store.ErrNotFound)
}

func TestDeleteDocumentChecksKind(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, domain.Document{
		Kind:         domain.DocKindInvoice,
		CustomerName: "Cliente",
		Items:        []domain.LineItem{{Name: "Servicio", Qty: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteDocument(ctx, domain.DocKindFiscalCredit, doc.ID), store.ErrNotFound)
	assert.NoError(t, s.DeleteDocument(ctx, domain.DocKindInvoice, doc.ID))
}

func TestDocumentNumbersArePerKind(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	items := []domain.LineItem{{Name: "Servicio", Qty: 1, UnitPrice: decimal.NewFromInt(10)}}

	first, err := s.CreateDocument(ctx, domain.Document{Kind: domain.DocKindInvoice, CustomerName: "A", Items: items})
	require.NoError(t, err)
	second, err := s.CreateDocument(ctx, domain.Document{Kind: domain.DocKindInvoice, CustomerName: "B", Items: items})
	require.NoError(t, err)
	credit, err := s.CreateDocument(ctx, domain.Document{Kind: domain.DocKindFiscalCredit, CustomerName: "C", CustomerTaxID: "1", Items: items})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)
	assert.Equal(t, int64(1), credit.Number)
}

func TestLotLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 6, 0)

	lot, err := s.CreateLot(ctx, domain.Lot{ProductID: "p1", LotCode: "L1", ExpiryDate: expiry, InitialQty: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, lot.CurrentQty)

	p1, err := s.GetProductByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 30, p1.Quantity)

	corrected, err := s.CorrectLot(ctx, lot.ID, "L1-fix", time.Time{}, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, corrected.CurrentQty)
	assert.Equal(t, 20, corrected.InitialQty)
	assert.Equal(t, "L1-fix", corrected.LotCode)

	p1, err = s.GetProductByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 22, p1.Quantity)

	require.NoError(t, s.DisposeLot(ctx, lot.ID))
	p1, err = s.GetProductByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Quantity)

	assert.ErrorIs(t, s.DisposeLot(ctx, lot.ID), store.ErrNotFound)
}

func TestCorrectLotGrowsInitialQty(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	lot, err := s.CreateLot(ctx, domain.Lot{ProductID: "p1", ExpiryDate: time.Now().AddDate(1, 0, 0), InitialQty: 5})
	require.NoError(t, err)

	corrected, err := s.CorrectLot(ctx, lot.ID, "", time.Time{}, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, corrected.CurrentQty)
	assert.Equal(t, 9, corrected.InitialQty)
}

func TestListActiveLotsOrdersByExpiry(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	now := time.Now().UTC()

	late, err := s.CreateLot(ctx, domain.Lot{ProductID: "p1", LotCode: "late", ExpiryDate: now.AddDate(1, 0, 0), InitialQty: 5})
	require.NoError(t, err)
	early, err := s.CreateLot(ctx, domain.Lot{ProductID: "p1", LotCode: "early", ExpiryDate: now.AddDate(0, 1, 0), InitialQty: 5})
	require.NoError(t, err)

	// Draining a lot removes it from the active listing.
	_, err = s.CorrectLot(ctx, late.ID, "late", time.Time{}, 1)
	require.NoError(t, err)
	require.NoError(t, s.DisposeLot(ctx, late.ID))

	lots, err := s.ListActiveLots(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, early.ID, lots[0].ID)
}

func TestListExpiringLotsHonorsWindow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.CreateLot(ctx, domain.Lot{ProductID: "p1", LotCode: "soon", ExpiryDate: now.AddDate(0, 0, 10), InitialQty: 5})
	require.NoError(t, err)
	_, err = s.CreateLot(ctx, domain.Lot{ProductID: "p1", LotCode: "far", ExpiryDate: now.AddDate(1, 0, 0), InitialQty: 5})
	require.NoError(t, err)

	expiring, err := s.ListExpiringLots(ctx, 30, 10)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "soon", expiring[0].LotCode)
	assert.Equal(t, "Látex Blanco", expiring[0].ProductName)
}

func TestTopProductsAggregatesAcrossDocuments(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.CreateDocument(ctx, domain.Document{
		Kind: domain.DocKindInvoice, CustomerName: "A",
		Items: []domain.LineItem{{ProductID: "p1", Name: "Látex Blanco", Qty: 2, UnitPrice: decimal.NewFromInt(850)}},
	})
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, domain.Document{
		Kind: domain.DocKindInvoice, CustomerName: "B",
		Items: []domain.LineItem{
			{ProductID: "p1", Name: "Látex Blanco", Qty: 1, UnitPrice: decimal.NewFromInt(850)},
			{ProductID: "p2", Name: "Thinner", Qty: 1, UnitPrice: decimal.NewFromInt(310)},
		},
	})
	require.NoError(t, err)

	top, err := s.TopProducts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "p1", top[0].ProductID)
	assert.Equal(t, int64(3), top[0].UnitsSold)
	assert.True(t, decimal.NewFromInt(2550).Equal(top[0].Revenue))
}

func TestSalesSeriesFiltersAndBuckets(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	day := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	items := []domain.LineItem{{ProductID: "p1", Name: "Látex Blanco", Qty: 1, UnitPrice: decimal.NewFromInt(850)}}
	_, err := s.CreateDocument(ctx, domain.Document{Kind: domain.DocKindInvoice, CustomerName: "A", PaymentMethod: "cash", IssueDate: day, Total: decimal.NewFromInt(850), Items: items})
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, domain.Document{Kind: domain.DocKindInvoice, CustomerName: "B", PaymentMethod: "card", IssueDate: day.AddDate(0, 0, 1), Total: decimal.NewFromInt(850), Items: items})
	require.NoError(t, err)

	points, err := s.SalesSeries(ctx, domain.SeriesFilter{
		From:   day.AddDate(0, 0, -1),
		To:     day.AddDate(0, 0, 2),
		Bucket: domain.SeriesBucketDay,
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2026-08-10", points[0].Bucket)
	assert.Equal(t, int64(1), points[0].Count)

	cashOnly, err := s.SalesSeries(ctx, domain.SeriesFilter{
		From:          day.AddDate(0, 0, -1),
		To:            day.AddDate(0, 0, 2),
		Bucket:        domain.SeriesBucketMonth,
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	require.Len(t, cashOnly, 1)
	assert.Equal(t, "2026-08", cashOnly[0].Bucket)
	assert.True(t, decimal.NewFromInt(850).Equal(cashOnly[0].Value))
}

func TestListLowStock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	low, err := s.ListLowStock(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "p2", low[0].ID)
}

func TestSearchProducts(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	found, err := s.SearchProducts(ctx, "thin", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "p2", found[0].ID)
}
