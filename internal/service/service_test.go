package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/cache"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	repo.AddProduct(domain.Product{
		ID:       "prod-latex",
		Name:     "Pintura Látex Blanca 1gal",
		Category: "pinturas",
		Code:     "LTX-BL-1G",
		Price:    decimal.NewFromInt(850),
		Quantity: 10,
	})
	repo.AddProduct(domain.Product{
		ID:       "prod-thinner",
		Name:     "Thinner Corriente 1gal",
		Category: "solventes",
		Code:     "THN-1G",
		Price:    decimal.NewFromInt(310),
		Quantity: 2,
	})

	svc := New(repo, cache.NoopReportCache{}, zap.NewNop(), Options{})
	return svc, repo
}

func productQty(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	product, err := repo.GetProductByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product.Quantity
}

func TestCreateInvoiceDecrementsStock(t *testing.T) {
	svc, repo := newTestService()

	receipt, err := svc.CreateDocument(context.Background(), domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Ferretería El Progreso"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("3")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if receipt.Number != 1 {
		t.Fatalf("expected document number 1, got %d", receipt.Number)
	}
	if got := productQty(t, repo, "prod-latex"); got != 7 {
		t.Fatalf("expected quantity 7 after selling 3 of 10, got %d", got)
	}
	// Price omitted on the line, so the catalog price fills in.
	if !receipt.Total.Equal(decimal.NewFromInt(2550)) {
		t.Fatalf("expected total 2550, got %s", receipt.Total)
	}
}

func TestCreateInvoiceClampsStockAtZero(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CreateDocument(context.Background(), domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Cliente Mostrador"},
		Items: []domain.ItemInput{
			{ProductID: "prod-thinner", Qty: json.Number("5")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if got := productQty(t, repo, "prod-thinner"); got != 0 {
		t.Fatalf("expected quantity clamped to 0, got %d", got)
	}
}

func TestDeleteInvoiceRestoresOnlyAppliedStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Sell 5 against a stock of 2: only 2 units can actually be deducted.
	receipt, err := svc.CreateDocument(ctx, domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Cliente Mostrador"},
		Items: []domain.ItemInput{
			{ProductID: "prod-thinner", Qty: json.Number("5")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if got := productQty(t, repo, "prod-thinner"); got != 0 {
		t.Fatalf("expected quantity 0, got %d", got)
	}

	if err := svc.DeleteDocument(ctx, domain.DocKindInvoice, receipt.ID); err != nil {
		t.Fatalf("delete invoice failed: %v", err)
	}
	// Restoring the full requested 5 would invent 3 units out of thin air.
	if got := productQty(t, repo, "prod-thinner"); got != 2 {
		t.Fatalf("expected quantity restored to 2, got %d", got)
	}
}

func TestDeleteThenRecreateIsReversible(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	receipt, err := svc.CreateDocument(ctx, domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Pinturas del Norte"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("4")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if err := svc.DeleteDocument(ctx, domain.DocKindInvoice, receipt.ID); err != nil {
		t.Fatalf("delete invoice failed: %v", err)
	}
	if got := productQty(t, repo, "prod-latex"); got != 10 {
		t.Fatalf("expected quantity back to 10, got %d", got)
	}
}

func TestCreateDocumentRejectsAllInvalidItems(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CreateDocument(context.Background(), domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Cliente"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("0")},
			{Name: "Sin cantidad"},
			{ProductID: "prod-latex", Qty: json.Number("-2")},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// No partial mutation before the rejection.
	if got := productQty(t, repo, "prod-latex"); got != 10 {
		t.Fatalf("expected quantity untouched at 10, got %d", got)
	}
}

func TestCreateDocumentRequiresCustomerName(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateDocument(context.Background(), domain.DocKindInvoice, domain.CreateDocumentRequest{
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("1")},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFiscalCreditRequiresTaxID(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateDocument(ctx, domain.DocKindFiscalCredit, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Distribuidora SA"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("1")},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error without tax id, got %v", err)
	}

	receipt, err := svc.CreateDocument(ctx, domain.DocKindFiscalCredit, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Distribuidora SA", CustomerTaxID: "0614-290586-102-3"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("1")},
		},
	})
	if err != nil {
		t.Fatalf("create fiscal credit failed: %v", err)
	}
	if receipt.Number != 1 {
		t.Fatalf("expected fiscal credit numbering independent of invoices, got %d", receipt.Number)
	}
}

func TestCreateDocumentRecomputesDeclaredTotals(t *testing.T) {
	svc, _ := newTestService()

	receipt, err := svc.CreateDocument(context.Background(), domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{
			CustomerName: "Cliente",
			Subtotal:     json.Number("999999"),
			Total:        json.Number("1"),
			Tax:          json.Number("110.50"),
		},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("2"), Price: json.Number("850")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	// 2 * 850 + declared tax 110.50; the declared subtotal/total are ignored.
	want := decimal.NewFromFloat(1810.50)
	if !receipt.Total.Equal(want) {
		t.Fatalf("expected recomputed total %s, got %s", want, receipt.Total)
	}
}

func TestCreateDocumentDowngradesUnknownProduct(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	receipt, err := svc.CreateDocument(ctx, domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Cliente"},
		Items: []domain.ItemInput{
			{ProductID: "prod-ghost", Name: "Producto descatalogado", Qty: json.Number("2"), Price: json.Number("50")},
			{ProductID: "prod-latex", Qty: json.Number("1")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	doc, err := svc.GetDocument(ctx, domain.DocKindInvoice, receipt.ID)
	if err != nil {
		t.Fatalf("get invoice failed: %v", err)
	}
	if len(doc.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(doc.Items))
	}
	for _, item := range doc.Items {
		if item.Name == "Producto descatalogado" {
			if item.ProductID != "" {
				t.Fatalf("expected unknown product reference cleared, got %q", item.ProductID)
			}
			if item.StockApplied != 0 {
				t.Fatalf("expected no stock applied on free-text line, got %d", item.StockApplied)
			}
		}
	}
	if got := productQty(t, repo, "prod-latex"); got != 9 {
		t.Fatalf("expected known product decremented to 9, got %d", got)
	}
}

func TestLotLifecycleKeepsAggregateConsistent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	lot, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{
		ProductID:  "prod-latex",
		LotCode:    "L-2026-08",
		ExpiryDate: "2027-02-28",
		Qty:        20,
	})
	if err != nil {
		t.Fatalf("receive lot failed: %v", err)
	}
	if got := productQty(t, repo, "prod-latex"); got != 30 {
		t.Fatalf("expected quantity 30 after receiving 20, got %d", got)
	}

	corrected, err := svc.CorrectLot(ctx, lot.ID, domain.LotCorrectRequest{Qty: 12})
	if err != nil {
		t.Fatalf("correct lot failed: %v", err)
	}
	if corrected.CurrentQty != 12 {
		t.Fatalf("expected corrected qty 12, got %d", corrected.CurrentQty)
	}
	if got := productQty(t, repo, "prod-latex"); got != 22 {
		t.Fatalf("expected quantity 22 after correcting 20 to 12, got %d", got)
	}

	if err := svc.DisposeLot(ctx, lot.ID); err != nil {
		t.Fatalf("dispose lot failed: %v", err)
	}
	if got := productQty(t, repo, "prod-latex"); got != 10 {
		t.Fatalf("expected quantity back to 10 after disposal, got %d", got)
	}
}

func TestReceiveLotValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-latex", ExpiryDate: "2027-01-15", Qty: 0}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for qty 0, got %v", err)
	}
	if _, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-latex", ExpiryDate: "soon", Qty: 5}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
	if _, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-ghost", ExpiryDate: "2027-01-15", Qty: 5}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}
}

// seriesRecorder captures the filter the service hands to the repository.
type seriesRecorder struct {
	*memory.Store
	got domain.SeriesFilter
}

func (r *seriesRecorder) SalesSeries(ctx context.Context, filter domain.SeriesFilter) ([]domain.SeriesPoint, error) {
	r.got = filter
	return r.Store.SalesSeries(ctx, filter)
}

func TestSalesSeriesDefaultWindowIncludesToday(t *testing.T) {
	repo := &seriesRecorder{Store: memory.New()}
	svc := New(repo, cache.NoopReportCache{}, zap.NewNop(), Options{})

	if _, err := svc.SalesSeries(context.Background(), domain.SeriesFilter{}); err != nil {
		t.Fatalf("sales series failed: %v", err)
	}

	to := repo.got.To
	if to.Hour() != 0 || to.Minute() != 0 || to.Second() != 0 || to.Nanosecond() != 0 {
		t.Fatalf("expected day-aligned default upper bound, got %s", to)
	}
	// Day-truncating stores bind the bound as a date, so an upper bound in
	// the past or present would exclude documents issued today.
	if !to.After(time.Now().UTC()) {
		t.Fatalf("expected default upper bound past now, got %s", to)
	}
	if repo.got.From.IsZero() || !repo.got.From.Before(to) {
		t.Fatalf("expected default from before to, got %s", repo.got.From)
	}
}

func TestSalesSeriesReportsOnlyRequestedMeasure(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateDocument(ctx, domain.DocKindInvoice, domain.CreateDocumentRequest{
		Header: domain.DocumentHeader{CustomerName: "Cliente"},
		Items: []domain.ItemInput{
			{ProductID: "prod-latex", Qty: json.Number("2")},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	counts, err := svc.SalesSeries(ctx, domain.SeriesFilter{Measure: domain.SeriesMeasureCount})
	if err != nil {
		t.Fatalf("count series failed: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("expected 1 point, got %d", len(counts))
	}
	if counts[0].Count != 1 || !counts[0].Value.IsZero() {
		t.Fatalf("expected count-only point, got %+v", counts[0])
	}

	values, err := svc.SalesSeries(ctx, domain.SeriesFilter{Measure: domain.SeriesMeasureValue})
	if err != nil {
		t.Fatalf("value series failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("expected 1 point, got %d", len(values))
	}
	if values[0].Count != 0 || !values[0].Value.Equal(decimal.NewFromInt(1700)) {
		t.Fatalf("expected value-only point of 1700, got %+v", values[0])
	}
}

func TestSalesSeriesValidatesFilter(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.SalesSeries(ctx, domain.SeriesFilter{Bucket: "week"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bucket week, got %v", err)
	}
	if _, err := svc.SalesSeries(ctx, domain.SeriesFilter{Kind: "receipt"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
	if _, err := svc.SalesSeries(ctx, domain.SeriesFilter{}); err != nil {
		t.Fatalf("expected defaults to produce a valid query, got %v", err)
	}
}
