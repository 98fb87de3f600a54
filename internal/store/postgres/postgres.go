package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/store"
	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet. Statements are
// idempotent so startup can run this unconditionally.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL DEFAULT 0,
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			image_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS lots (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			lot_code TEXT NOT NULL DEFAULT '',
			expiry_date DATE NOT NULL,
			initial_qty INTEGER NOT NULL CHECK (initial_qty > 0),
			current_qty INTEGER NOT NULL CHECK (current_qty >= 0),
			received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_product_expiry ON lots (product_id, expiry_date)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			doc_number BIGINT NOT NULL,
			customer_name TEXT NOT NULL,
			customer_address TEXT NOT NULL DEFAULT '',
			customer_tax_id TEXT NOT NULL DEFAULT '',
			payment_terms TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			retained_tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			total NUMERIC(12,2) NOT NULL DEFAULT 0,
			remission_refs TEXT NOT NULL DEFAULT '',
			payload JSONB,
			created_by TEXT NOT NULL DEFAULT '',
			issue_date DATE NOT NULL DEFAULT CURRENT_DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (kind, doc_number)
		)`,
		`CREATE TABLE IF NOT EXISTS line_items (
			id BIGSERIAL PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			stock_applied INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_line_items_document ON line_items (document_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'clerk',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// querier lets the stock adjustment run either on the pool or inside an
// open transaction, so every mutator shares the same primitive.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// adjustStock applies quantity += delta floored at zero in a single
// statement and reports the delta actually applied. The locking CTE captures
// the previous value so a clamped decrement can be detected.
func adjustStock(ctx context.Context, q querier, productID string, delta int) (int, error) {
	var applied int
	err := q.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT id, quantity FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products p
		SET quantity = GREATEST(p.quantity + $2, 0), updated_at = now()
		FROM prev
		WHERE p.id = prev.id
		RETURNING p.quantity - prev.quantity
	`, productID, delta).Scan(&applied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return applied, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	return adjustStock(ctx, s.db, productID, delta)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, code, price, quantity, image_path, created_at, updated_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, code, price, quantity, image_path, created_at, updated_at
		FROM products
		WHERE name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, code, price, quantity, image_path, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Code, &p.Price, &p.Quantity, &p.ImagePath, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, code, price, quantity, image_path, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error) {
	if strings.TrimSpace(lot.ProductID) == "" || lot.InitialQty < 1 || lot.ExpiryDate.IsZero() {
		return nil, store.ErrValidation
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	lot.LotCode = strings.TrimSpace(lot.LotCode)
	lot.CurrentQty = lot.InitialQty
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lots (id, product_id, lot_code, expiry_date, initial_qty, current_qty, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, lot.ID, lot.ProductID, lot.LotCode, dateOnly(lot.ExpiryDate), lot.InitialQty, lot.CurrentQty, lot.ReceivedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if _, err := adjustStock(ctx, tx, lot.ProductID, lot.CurrentQty); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := lot
	return &created, nil
}

func (s *Store) CorrectLot(ctx context.Context, lotID string, lotCode string, expiry time.Time, qty int) (*domain.Lot, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var lot domain.Lot
	err = tx.QueryRowContext(ctx, `
		SELECT id, product_id, lot_code, expiry_date, initial_qty, current_qty, received_at
		FROM lots
		WHERE id = $1
		FOR UPDATE
	`, lotID).Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.ExpiryDate, &lot.InitialQty, &lot.CurrentQty, &lot.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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

	_, err = tx.ExecContext(ctx, `
		UPDATE lots
		SET lot_code = $2, expiry_date = $3, initial_qty = $4, current_qty = $5, updated_at = now()
		WHERE id = $1
	`, lot.ID, lot.LotCode, dateOnly(lot.ExpiryDate), lot.InitialQty, lot.CurrentQty)
	if err != nil {
		return nil, err
	}

	if delta != 0 {
		if _, err := adjustStock(ctx, tx, lot.ProductID, delta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &lot, nil
}

func (s *Store) DisposeLot(ctx context.Context, lotID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	var currentQty int
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, current_qty
		FROM lots
		WHERE id = $1
		FOR UPDATE
	`, lotID).Scan(&productID, &currentQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if currentQty > 0 {
		if _, err := adjustStock(ctx, tx, productID, -currentQty); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE id = $1`, lotID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListActiveLots(ctx context.Context, productID string, limit int) ([]domain.Lot, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, lot_code, expiry_date, initial_qty, current_qty, received_at, updated_at
		FROM lots
		WHERE current_qty > 0
			AND ($1 = '' OR product_id = $1)
		ORDER BY expiry_date ASC, received_at ASC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, limit)
	for rows.Next() {
		var lot domain.Lot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.ExpiryDate, &lot.InitialQty, &lot.CurrentQty, &lot.ReceivedAt, &lot.UpdatedAt); err != nil {
			return nil, err
		}
		lot.ReceivedAt = lot.ReceivedAt.UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// CreateDocument inserts the header and line items and decrements stock for
// catalog-linked items inside one serializable transaction. The per-line
// applied decrement is persisted so deletion can reverse exactly what was
// taken even when the decrement was clamped.
func (s *Store) CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	if doc.Kind != domain.DocKindInvoice && doc.Kind != domain.DocKindFiscalCredit {
		return nil, store.ErrValidation
	}
	if len(doc.Items) == 0 {
		return nil, store.ErrValidation
	}
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.IssueDate.IsZero() {
		doc.IssueDate = doc.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if doc.Number == 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(doc_number), 0) + 1
			FROM documents
			WHERE kind = $1
		`, doc.Kind).Scan(&doc.Number)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			id, kind, doc_number, customer_name, customer_address, customer_tax_id,
			payment_terms, payment_method, subtotal, tax, retained_tax, total,
			remission_refs, payload, created_by, issue_date, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, doc.ID, doc.Kind, doc.Number, doc.CustomerName, doc.CustomerAddress, doc.CustomerTaxID,
		doc.PaymentTerms, doc.PaymentMethod, doc.Subtotal, doc.Tax, doc.RetainedTax, doc.Total,
		doc.RemissionRefs, nullIfEmptyBytes(doc.Payload), doc.CreatedBy, dateOnly(doc.IssueDate), doc.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range doc.Items {
		item := &doc.Items[i]
		item.DocumentID = doc.ID
		item.StockApplied = 0

		if item.ProductID != "" {
			applied, err := adjustStock(ctx, tx, item.ProductID, -item.Qty)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// Dangling catalog reference: keep the line as a plain
					// snapshot with no stock effect.
					item.ProductID = ""
				} else {
					return nil, err
				}
			} else {
				item.StockApplied = -applied
			}
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO line_items (document_id, product_id, name, qty, unit_price, stock_applied)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, item.DocumentID, nullIfEmpty(item.ProductID), item.Name, item.Qty, item.UnitPrice, item.StockApplied).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := doc
	return &created, nil
}

// DeleteDocument removes the document and its items and restores each line's
// applied stock decrement in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, kind string, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM documents WHERE id = $1 AND kind = $2 FOR UPDATE
	`, id, kind).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	type restore struct {
		productID string
		applied   int
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT COALESCE(product_id, ''), stock_applied
		FROM line_items
		WHERE document_id = $1
	`, id)
	if err != nil {
		return err
	}
	restores := make([]restore, 0, 8)
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.productID, &r.applied); err != nil {
			_ = rows.Close()
			return err
		}
		restores = append(restores, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = $1`, id); err != nil {
		return err
	}

	for _, r := range restores {
		if r.productID == "" || r.applied == 0 {
			continue
		}
		if _, err := adjustStock(ctx, tx, r.productID, r.applied); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Product was removed from the catalog after the sale; there
				// is no stock row left to restore into.
				continue
			}
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND kind = $2`, id, kind)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) GetDocumentByID(ctx context.Context, kind string, id string) (*domain.Document, error) {
	var doc domain.Document
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, doc_number, customer_name, customer_address, customer_tax_id,
			payment_terms, payment_method, subtotal, tax, retained_tax, total,
			remission_refs, payload, created_by, issue_date, created_at
		FROM documents
		WHERE id = $1 AND kind = $2
	`, id, kind).Scan(
		&doc.ID, &doc.Kind, &doc.Number, &doc.CustomerName, &doc.CustomerAddress, &doc.CustomerTaxID,
		&doc.PaymentTerms, &doc.PaymentMethod, &doc.Subtotal, &doc.Tax, &doc.RetainedTax, &doc.Total,
		&doc.RemissionRefs, &payload, &doc.CreatedBy, &doc.IssueDate, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc.Payload = payload
	doc.CreatedAt = doc.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, COALESCE(product_id, ''), name, qty, unit_price, stock_applied
		FROM line_items
		WHERE document_id = $1
		ORDER BY id ASC
	`, doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.ProductID, &item.Name, &item.Qty, &item.UnitPrice, &item.StockApplied); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	doc.Items = items

	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, kind string, limit int) ([]domain.Document, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, doc_number, customer_name, customer_address, customer_tax_id,
			payment_terms, payment_method, subtotal, tax, retained_tax, total,
			remission_refs, created_by, issue_date, created_at
		FROM documents
		WHERE $1 = '' OR kind = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(
			&doc.ID, &doc.Kind, &doc.Number, &doc.CustomerName, &doc.CustomerAddress, &doc.CustomerTaxID,
			&doc.PaymentTerms, &doc.PaymentMethod, &doc.Subtotal, &doc.Tax, &doc.RetainedTax, &doc.Total,
			&doc.RemissionRefs, &doc.CreatedBy, &doc.IssueDate, &doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT li.product_id, MAX(li.name), SUM(li.qty)::bigint, COALESCE(SUM(li.unit_price * li.qty), 0)
		FROM line_items li
		JOIN documents d ON d.id = li.document_id
		WHERE li.product_id IS NOT NULL
		GROUP BY li.product_id
		ORDER BY SUM(li.qty) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	top := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var tp domain.TopProduct
		if err := rows.Scan(&tp.ProductID, &tp.Name, &tp.UnitsSold, &tp.Revenue); err != nil {
			return nil, err
		}
		top = append(top, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return top, nil
}

func (s *Store) SalesSeries(ctx context.Context, filter domain.SeriesFilter) ([]domain.SeriesPoint, error) {
	bucketExpr := `to_char(date_trunc('day', issue_date), 'YYYY-MM-DD')`
	if filter.Bucket == domain.SeriesBucketMonth {
		bucketExpr = `to_char(date_trunc('month', issue_date), 'YYYY-MM')`
	}

	query := `
		SELECT ` + bucketExpr + `, COUNT(*)::bigint, COALESCE(SUM(total), 0)
		FROM documents
		WHERE issue_date >= $1 AND issue_date < $2`
	args := []any{dateOnly(filter.From), dateOnly(filter.To)}

	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if filter.PaymentMethod != "" {
		args = append(args, filter.PaymentMethod)
		query += fmt.Sprintf(` AND payment_method = $%d`, len(args))
	}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM line_items li
			WHERE li.document_id = documents.id AND li.product_id = $%d
		)`, len(args))
	}
	query += `
		GROUP BY 1
		ORDER BY 1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]domain.SeriesPoint, 0, 32)
	for rows.Next() {
		var p domain.SeriesPoint
		if err := rows.Scan(&p.Bucket, &p.Count, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, code, price, quantity, image_path, created_at, updated_at
		FROM products
		WHERE quantity <= $1
		ORDER BY quantity ASC, name
		LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (s *Store) ListExpiringLots(ctx context.Context, windowDays int, limit int) ([]domain.ExpiringLot, error) {
	if windowDays < 1 {
		windowDays = 30
	}
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.product_id, l.lot_code, l.expiry_date, l.initial_qty, l.current_qty,
			l.received_at, l.updated_at, p.name
		FROM lots l
		JOIN products p ON p.id = l.product_id
		WHERE l.current_qty > 0
			AND l.expiry_date <= CURRENT_DATE + $1::int
		ORDER BY l.expiry_date ASC
		LIMIT $2
	`, windowDays, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.ExpiringLot, 0, limit)
	for rows.Next() {
		var lot domain.ExpiringLot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.LotCode, &lot.ExpiryDate, &lot.InitialQty, &lot.CurrentQty, &lot.ReceivedAt, &lot.UpdatedAt, &lot.ProductName); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Code, &p.Price, &p.Quantity, &p.ImagePath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfEmptyBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ store.Repository = (*Store)(nil)
