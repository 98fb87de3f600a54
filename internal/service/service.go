package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/cache"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store"
)

const dateLayout = "2006-01-02"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	ReportTTL         time.Duration
	LowStockThreshold int
	ExpiryWindowDays  int
}

type Service struct {
	repo              store.Repository
	reports           cache.ReportCache
	validate          *validator.Validate
	logger            *zap.Logger
	reportTTL         time.Duration
	lowStockThreshold int
	expiryWindowDays  int
}

func New(repo store.Repository, reports cache.ReportCache, logger *zap.Logger, opts Options) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = 30 * time.Second
	}
	if opts.LowStockThreshold < 0 {
		opts.LowStockThreshold = 5
	}
	if opts.ExpiryWindowDays < 1 {
		opts.ExpiryWindowDays = 30
	}

	return &Service{
		repo:              repo,
		reports:           reports,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		logger:            logger,
		reportTTL:         opts.ReportTTL,
		lowStockThreshold: opts.LowStockThreshold,
		expiryWindowDays:  opts.ExpiryWindowDays,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.SearchProducts(ctx, query, limit)
}

// CreateDocument runs the full intake pipeline: header validation, item
// normalization, catalog enrichment, server-side total recomputation, then
// one atomic storage transaction. The caller's raw request is kept verbatim
// as the stored audit payload.
func (s *Service) CreateDocument(ctx context.Context, kind string, req domain.CreateDocumentRequest) (*domain.DocumentReceipt, error) {
	if kind != domain.DocKindInvoice && kind != domain.DocKindFiscalCredit {
		return nil, fmt.Errorf("%w: unknown document kind %q", store.ErrValidation, kind)
	}

	if err := s.validate.Struct(req.Header); err != nil {
		return nil, fmt.Errorf("%w: customer_name is required", store.ErrValidation)
	}
	if kind == domain.DocKindFiscalCredit && strings.TrimSpace(req.Header.CustomerTaxID) == "" {
		return nil, fmt.Errorf("%w: customer_tax_id is required for fiscal credits", store.ErrValidation)
	}

	normalized := normalizeItems(req.Items)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: no valid line items", store.ErrValidation)
	}

	items, err := s.enrichItems(ctx, normalized)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	tax, err := headerAmount(req.Header.Tax)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tax amount", store.ErrValidation)
	}
	retained, err := headerAmount(req.Header.RetainedTax)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid retained tax amount", store.ErrValidation)
	}

	issueDate := time.Now().UTC()
	if raw := strings.TrimSpace(req.Header.IssueDate); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: issue_date must be YYYY-MM-DD", store.ErrValidation)
		}
		issueDate = parsed
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}

	doc := domain.Document{
		Kind:            kind,
		CustomerName:    strings.TrimSpace(req.Header.CustomerName),
		CustomerAddress: strings.TrimSpace(req.Header.CustomerAddress),
		CustomerTaxID:   strings.TrimSpace(req.Header.CustomerTaxID),
		PaymentTerms:    strings.TrimSpace(req.Header.PaymentTerms),
		PaymentMethod:   strings.TrimSpace(req.Header.PaymentMethod),
		Subtotal:        subtotal,
		Tax:             tax,
		RetainedTax:     retained,
		Total:           subtotal.Add(tax).Sub(retained),
		RemissionRefs:   strings.TrimSpace(req.Header.RemissionRefs),
		Payload:         payload,
		IssueDate:       issueDate,
		Items:           items,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		doc.CreatedBy = actor.Username
	}

	created, err := s.repo.CreateDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	s.logger.Info("document created",
		zap.String("kind", created.Kind),
		zap.String("id", created.ID),
		zap.Int64("number", created.Number),
		zap.Int("items", len(created.Items)),
		zap.String("total", created.Total.String()),
	)

	return &domain.DocumentReceipt{
		ID:     created.ID,
		Number: created.Number,
		Total:  created.Total,
	}, nil
}

// enrichItems fills missing names and prices from the catalog. Lines that
// reference a product but carry neither a name nor a resolvable catalog
// entry are dropped here rather than stored nameless.
func (s *Service) enrichItems(ctx context.Context, normalized []normalizedItem) ([]domain.LineItem, error) {
	ids := make([]string, 0, len(normalized))
	for _, item := range normalized {
		if item.productID != "" {
			ids = append(ids, item.productID)
		}
	}

	catalog := map[string]domain.Product{}
	if len(ids) > 0 {
		var err error
		catalog, err = s.repo.GetProductsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	items := make([]domain.LineItem, 0, len(normalized))
	for _, item := range normalized {
		line := domain.LineItem{
			ProductID: item.productID,
			Name:      item.name,
			Qty:       item.qty,
			UnitPrice: item.unitPrice,
		}
		if product, ok := catalog[item.productID]; ok {
			if line.Name == "" {
				line.Name = product.Name
			}
			if !item.hasPrice {
				line.UnitPrice = product.Price
			}
		}
		if line.Name == "" {
			continue
		}
		items = append(items, line)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no valid line items", store.ErrValidation)
	}
	return items, nil
}

func headerAmount(n json.Number) (decimal.Decimal, error) {
	if n.String() == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid amount %q", n.String())
	}
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, kind string, id string) (*domain.Document, error) {
	if kind != domain.DocKindInvoice && kind != domain.DocKindFiscalCredit {
		return nil, fmt.Errorf("%w: unknown document kind %q", store.ErrValidation, kind)
	}
	return s.repo.GetDocumentByID(ctx, kind, id)
}

func (s *Service) ListDocuments(ctx context.Context, kind string, limit int) ([]domain.Document, error) {
	if kind != domain.DocKindInvoice && kind != domain.DocKindFiscalCredit {
		return nil, fmt.Errorf("%w: unknown document kind %q", store.ErrValidation, kind)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListDocuments(ctx, kind, limit)
}

func (s *Service) DeleteDocument(ctx context.Context, kind string, id string) error {
	if kind != domain.DocKindInvoice && kind != domain.DocKindFiscalCredit {
		return fmt.Errorf("%w: unknown document kind %q", store.ErrValidation, kind)
	}
	if err := s.repo.DeleteDocument(ctx, kind, id); err != nil {
		return err
	}

	s.logger.Info("document deleted", zap.String("kind", kind), zap.String("id", id))
	return nil
}

func (s *Service) ReceiveLot(ctx context.Context, req domain.LotReceiveRequest) (*domain.Lot, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: qty must be at least 1", store.ErrValidation)
	}
	expiry, err := time.Parse(dateLayout, strings.TrimSpace(req.ExpiryDate))
	if err != nil {
		return nil, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrValidation)
	}

	lot, err := s.repo.CreateLot(ctx, domain.Lot{
		ProductID:  strings.TrimSpace(req.ProductID),
		LotCode:    strings.TrimSpace(req.LotCode),
		ExpiryDate: expiry,
		InitialQty: req.Qty,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lot received",
		zap.String("lot_id", lot.ID),
		zap.String("product_id", lot.ProductID),
		zap.Int("qty", lot.CurrentQty),
	)
	return lot, nil
}

func (s *Service) CorrectLot(ctx context.Context, lotID string, req domain.LotCorrectRequest) (*domain.Lot, error) {
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: qty must be at least 1", store.ErrValidation)
	}
	var expiry time.Time
	if raw := strings.TrimSpace(req.ExpiryDate); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrValidation)
		}
		expiry = parsed
	}

	lot, err := s.repo.CorrectLot(ctx, lotID, strings.TrimSpace(req.LotCode), expiry, req.Qty)
	if err != nil {
		return nil, err
	}

	s.logger.Info("lot corrected",
		zap.String("lot_id", lot.ID),
		zap.String("product_id", lot.ProductID),
		zap.Int("qty", lot.CurrentQty),
	)
	return lot, nil
}

func (s *Service) DisposeLot(ctx context.Context, lotID string) error {
	if err := s.repo.DisposeLot(ctx, lotID); err != nil {
		return err
	}
	s.logger.Info("lot disposed", zap.String("lot_id", lotID))
	return nil
}

func (s *Service) ListActiveLots(ctx context.Context, productID string, limit int) ([]domain.Lot, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListActiveLots(ctx, productID, limit)
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 || limit > 50 {
		limit = 10
	}
	key := fmt.Sprintf("reports:top-products:%d", limit)

	var cached []domain.TopProduct
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}

	top, err := s.repo.TopProducts(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, key, top)
	return top, nil
}

func (s *Service) SalesSeries(ctx context.Context, filter domain.SeriesFilter) ([]domain.SeriesPoint, error) {
	if filter.Bucket == "" {
		filter.Bucket = domain.SeriesBucketDay
	}
	if filter.Bucket != domain.SeriesBucketDay && filter.Bucket != domain.SeriesBucketMonth {
		return nil, fmt.Errorf("%w: bucket must be day or month", store.ErrValidation)
	}
	if filter.Measure == "" {
		filter.Measure = domain.SeriesMeasureCount
	}
	if filter.Measure != domain.SeriesMeasureCount && filter.Measure != domain.SeriesMeasureValue {
		return nil, fmt.Errorf("%w: measure must be count or value", store.ErrValidation)
	}
	if filter.Kind != "" && filter.Kind != domain.DocKindInvoice && filter.Kind != domain.DocKindFiscalCredit {
		return nil, fmt.Errorf("%w: unknown document kind %q", store.ErrValidation, filter.Kind)
	}
	if filter.To.IsZero() {
		// The window is exclusive at the top and the stores truncate bounds
		// to day granularity, so including today requires tomorrow's midnight.
		now := time.Now().UTC()
		filter.To = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	if filter.From.IsZero() {
		if filter.Bucket == domain.SeriesBucketMonth {
			filter.From = filter.To.AddDate(-1, 0, 0)
		} else {
			filter.From = filter.To.AddDate(0, 0, -30)
		}
	}
	if !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: from must precede to", store.ErrValidation)
	}

	key := fmt.Sprintf("reports:sales-series:%s:%s:%s:%s:%s:%d:%d",
		filter.Bucket, filter.Measure, filter.Kind, filter.PaymentMethod, filter.ProductID,
		filter.From.Unix(), filter.To.Unix())

	var cached []domain.SeriesPoint
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}

	points, err := s.repo.SalesSeries(ctx, filter)
	if err != nil {
		return nil, err
	}
	// The stores aggregate both measures in one pass; only the requested
	// one is reported.
	for i := range points {
		if filter.Measure == domain.SeriesMeasureCount {
			points[i].Value = decimal.Zero
		} else {
			points[i].Count = 0
		}
	}
	s.storeReport(ctx, key, points)
	return points, nil
}

func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	key := fmt.Sprintf("reports:low-stock:%d", s.lowStockThreshold)

	var cached []domain.Product
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}

	low, err := s.repo.ListLowStock(ctx, s.lowStockThreshold, 50)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, key, low)
	return low, nil
}

func (s *Service) ExpiringLots(ctx context.Context) ([]domain.ExpiringLot, error) {
	key := fmt.Sprintf("reports:expiring-lots:%d", s.expiryWindowDays)

	var cached []domain.ExpiringLot
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}

	expiring, err := s.repo.ListExpiringLots(ctx, s.expiryWindowDays, 50)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, key, expiring)
	return expiring, nil
}

// reportFromCache is best-effort: a cache failure degrades to a direct
// storage read, never to a request failure.
func (s *Service) reportFromCache(ctx context.Context, key string, dest any) bool {
	payload, ok, err := s.reports.Get(ctx, key)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		s.logger.Warn("report cache payload corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) storeReport(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.reports.Set(ctx, key, payload, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}
