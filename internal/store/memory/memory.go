package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/xid"
)

// Store is an in-memory Repository used by tests and by dev mode when no
// DATABASE_URL is configured. A single mutex stands in for the database's
// transaction isolation: every mutator validates first and only then
// mutates, so a failed call leaves no partial state behind.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	lots            map[string]domain.Lot
	documents       map[string]domain.Document
	nextItemID      int64
	nextDocNumber   map[string]int64
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		lots:            make(map[string]domain.Lot),
		documents:       make(map[string]domain.Document),
		nextDocNumber:   map[string]int64{},
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD
// environment variables, with hardcoded dev defaults as fallback. These are
// never used in production (the backend uses PostgreSQL when DATABASE_URL
// is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	clerkPwd := envOr("SEED_CLERK_PASSWORD", "clerk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"clerk", clerkPwd, "clerk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-latex-blanco", Name: "Pintura Látex Blanca 1gal", Category: "pinturas", Code: "LTX-BL-1G", Price: decimal.NewFromInt(850), Quantity: 40},
		{ID: "prod-latex-azul", Name: "Pintura Látex Azul Cielo 1gal", Category: "pinturas", Code: "LTX-AZ-1G", Price: decimal.NewFromInt(895), Quantity: 32},
		{ID: "prod-esmalte-negro", Name: "Esmalte Negro Brillante 1/4gal", Category: "esmaltes", Code: "ESM-NG-Q", Price: decimal.NewFromInt(425), Quantity: 24},
		{ID: "prod-thinner", Name: "Thinner Corriente 1gal", Category: "solventes", Code: "THN-1G", Price: decimal.NewFromInt(310), Quantity: 50},
		{ID: "prod-brocha-3", Name: "Brocha 3 pulgadas", Category: "accesorios", Code: "BRO-3", Price: decimal.NewFromInt(95), Quantity: 60},
		{ID: "prod-rodillo-9", Name: "Rodillo Felpa 9 pulgadas", Category: "accesorios", Code: "ROD-9", Price: decimal.NewFromInt(160), Quantity: 45},
		{ID: "prod-masilla", Name: "Masilla Plástica 1lb", Category: "preparación", Code: "MAS-1LB", Price: decimal.NewFromInt(225), Quantity: 18},
		{ID: "prod-sellador", Name: "Sellador de Madera 1gal", Category: "selladores", Code: "SEL-MAD-1G", Price: decimal.NewFromInt(720), Quantity: 12},
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(strings.ToLower(p.Code), needle) {
			matches = append(matches, p)
		}
	}
	slices.SortFunc(matches, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(productID, delta)
}

// adjustStockLocked is the single stock-adjust primitive: quantity += delta
// floored at zero, returning the delta actually applied. Callers must hold
// the write lock.
func (s *Store) adjustStockLocked(productID string, delta int) (int, error) {
	p, ok := s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := p.Quantity + delta
	if next < 0 {
		next = 0
	}
	applied := next - p.Quantity
	p.Quantity = next
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return applied, nil
}

func (s *Store) CreateLot(_ context.Context, lot domain.Lot) (*domain.Lot, error) {
	if strings.TrimSpace(lot.ProductID) == "" || lot.InitialQty < 1 || lot.ExpiryDate.IsZero() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[lot.ProductID]; !ok {
		return nil, store.ErrNotFound
	}

	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	lot.LotCode = strings.TrimSpace(lot.LotCode)
	lot.CurrentQty = lot.InitialQty
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	lot.UpdatedAt = lot.ReceivedAt

	s.lots[lot.ID] = lot
	if _, err := s.adjustStockLocked(lot.ProductID, lot.CurrentQty); err != nil {
		delete(s.lots, lot.ID)
		return nil, err
	}

	created := lot
	return &created, nil
}

func (s *Store) CorrectLot(_ context.Context, lotID string, lotCode string, expiry time.Time, qty int) (*domain.Lot, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}

	delta := qty - lot.CurrentQty
	lot.LotCode = strings.TrimSpace(lotCode)
	if !expiry.IsZero() {
		lot.ExpiryDate = expiry
	}
	lot.CurrentQty = qty
	if qty > lot.InitialQty {
		lot.InitialQty = qty
	}
	lot.UpdatedAt = time.Now().UTC()

	if delta != 0 {
		if _, err := s.adjustStockLocked(lot.ProductID, delta); err != nil {
			return nil, err
		}
	}
	s.lots[lotID] = lot

	corrected := lot
	return &corrected, nil
}

func (s *Store) DisposeLot(_ context.Context, lotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[lotID]
	if !ok {
		return store.ErrNotFound
	}

	if lot.CurrentQty > 0 {
		if _, err := s.adjustStockLocked(lot.ProductID, -lot.CurrentQty); err != nil {
			return err
		}
	}
	delete(s.lots, lotID)
	return nil
}

func (s *Store) ListActiveLots(_ context.Context, productID string, limit int) ([]domain.Lot, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := make([]domain.Lot, 0, 16)
	for _, lot := range s.lots {
		if lot.CurrentQty < 1 {
			continue
		}
		if productID != "" && lot.ProductID != productID {
			continue
		}
		lots = append(lots, lot)
	}
	slices.SortFunc(lots, func(a, b domain.Lot) int {
		if a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ReceivedAt.Compare(b.ReceivedAt)
		}
		return a.ExpiryDate.Compare(b.ExpiryDate)
	})
	if len(lots) > limit {
		lots = lots[:limit]
	}
	return lots, nil
}

func (s *Store) CreateDocument(_ context.Context, doc domain.Document) (*domain.Document, error) {
	if doc.Kind != domain.DocKindInvoice && doc.Kind != domain.DocKindFiscalCredit {
		return nil, store.ErrValidation
	}
	if len(doc.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.IssueDate.IsZero() {
		doc.IssueDate = doc.CreatedAt
	}
	if doc.Number == 0 {
		s.nextDocNumber[doc.Kind]++
		doc.Number = s.nextDocNumber[doc.Kind]
	} else if doc.Number > s.nextDocNumber[doc.Kind] {
		s.nextDocNumber[doc.Kind] = doc.Number
	}

	items := make([]domain.LineItem, len(doc.Items))
	copy(items, doc.Items)
	for i := range items {
		s.nextItemID++
		items[i].ID = s.nextItemID
		items[i].DocumentID = doc.ID
		items[i].StockApplied = 0

		if items[i].ProductID == "" {
			continue
		}
		applied, err := s.adjustStockLocked(items[i].ProductID, -items[i].Qty)
		if err != nil {
			// Dangling catalog reference: keep the line as a plain snapshot.
			items[i].ProductID = ""
			continue
		}
		items[i].StockApplied = -applied
	}
	doc.Items = items

	s.documents[doc.ID] = doc
	created := doc
	return &created, nil
}

func (s *Store) GetDocumentByID(_ context.Context, kind string, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok || doc.Kind != kind {
		return nil, store.ErrNotFound
	}
	copied := doc
	copied.Items = slices.Clone(doc.Items)
	return &copied, nil
}

func (s *Store) ListDocuments(_ context.Context, kind string, limit int) ([]domain.Document, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if kind != "" && doc.Kind != kind {
			continue
		}
		doc.Items = nil
		doc.Payload = nil
		docs = append(docs, doc)
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Store) DeleteDocument(_ context.Context, kind string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.Kind != kind {
		return store.ErrNotFound
	}

	for _, item := range doc.Items {
		if item.ProductID == "" || item.StockApplied == 0 {
			continue
		}
		// A product deleted from the catalog after the sale has no stock
		// row left to restore into; skip it like the SQL store does.
		_, _ = s.adjustStockLocked(item.ProductID, item.StockApplied)
	}
	delete(s.documents, id)
	return nil
}

func (s *Store) TopProducts(_ context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[string]*domain.TopProduct)
	for _, doc := range s.documents {
		for _, item := range doc.Items {
			if item.ProductID == "" {
				continue
			}
			tp, ok := byProduct[item.ProductID]
			if !ok {
				tp = &domain.TopProduct{ProductID: item.ProductID, Name: item.Name}
				byProduct[item.ProductID] = tp
			}
			tp.UnitsSold += int64(item.Qty)
			tp.Revenue = tp.Revenue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
		}
	}

	top := make([]domain.TopProduct, 0, len(byProduct))
	for _, tp := range byProduct {
		top = append(top, *tp)
	}
	slices.SortFunc(top, func(a, b domain.TopProduct) int {
		if a.UnitsSold == b.UnitsSold {
			return strings.Compare(a.ProductID, b.ProductID)
		}
		if a.UnitsSold > b.UnitsSold {
			return -1
		}
		return 1
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) SalesSeries(_ context.Context, filter domain.SeriesFilter) ([]domain.SeriesPoint, error) {
	layout := "2006-01-02"
	if filter.Bucket == domain.SeriesBucketMonth {
		layout = "2006-01"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byBucket := make(map[string]*domain.SeriesPoint)
	for _, doc := range s.documents {
		if doc.IssueDate.Before(filter.From) || !doc.IssueDate.Before(filter.To) {
			continue
		}
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		if filter.PaymentMethod != "" && doc.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.ProductID != "" && !documentHasProduct(doc, filter.ProductID) {
			continue
		}

		bucket := doc.IssueDate.UTC().Format(layout)
		point, ok := byBucket[bucket]
		if !ok {
			point = &domain.SeriesPoint{Bucket: bucket}
			byBucket[bucket] = point
		}
		point.Count++
		point.Value = point.Value.Add(doc.Total)
	}

	points := make([]domain.SeriesPoint, 0, len(byBucket))
	for _, point := range byBucket {
		points = append(points, *point)
	}
	slices.SortFunc(points, func(a, b domain.SeriesPoint) int {
		return strings.Compare(a.Bucket, b.Bucket)
	})
	return points, nil
}

func documentHasProduct(doc domain.Document, productID string) bool {
	for _, item := range doc.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

func (s *Store) ListLowStock(_ context.Context, threshold int, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.Quantity <= threshold {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if a.Quantity == b.Quantity {
			return strings.Compare(a.Name, b.Name)
		}
		return a.Quantity - b.Quantity
	})
	if len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

func (s *Store) ListExpiringLots(_ context.Context, windowDays int, limit int) ([]domain.ExpiringLot, error) {
	if windowDays < 1 {
		windowDays = 30
	}
	if limit < 1 {
		limit = 50
	}
	cutoff := time.Now().UTC().AddDate(0, 0, windowDays)

	s.mu.RLock()
	defer s.mu.RUnlock()

	expiring := make([]domain.ExpiringLot, 0, 16)
	for _, lot := range s.lots {
		if lot.CurrentQty < 1 || lot.ExpiryDate.After(cutoff) {
			continue
		}
		entry := domain.ExpiringLot{Lot: lot}
		if p, ok := s.products[lot.ProductID]; ok {
			entry.ProductName = p.Name
		}
		expiring = append(expiring, entry)
	}
	slices.SortFunc(expiring, func(a, b domain.ExpiringLot) int {
		return a.ExpiryDate.Compare(b.ExpiryDate)
	})
	if len(expiring) > limit {
		expiring = expiring[:limit]
	}
	return expiring, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// AddProduct registers a catalog entry; catalog management is owned by the
// excluded admin surface, but tests and dev seeding need a way in.
func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
}

var _ store.Repository = (*Store)(nil)
