package store

import (
	"context"
	"errors"
	"time"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Repository is the transactional storage contract. Multi-step mutations
// (document create/delete, lot receive/correct/dispose) are atomic: either
// every write in the operation lands or none does. Any error other than the
// sentinels above is a storage failure and the caller must assume rollback.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	// AdjustStock atomically applies quantity += delta floored at zero and
	// returns the delta actually applied (0 >= applied >= delta for
	// decrements). Returns ErrNotFound when the product does not exist.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)

	CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error)
	CorrectLot(ctx context.Context, lotID string, lotCode string, expiry time.Time, qty int) (*domain.Lot, error)
	DisposeLot(ctx context.Context, lotID string) error
	ListActiveLots(ctx context.Context, productID string, limit int) ([]domain.Lot, error)

	CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error)
	GetDocumentByID(ctx context.Context, kind string, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, kind string, limit int) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, kind string, id string) error

	TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error)
	SalesSeries(ctx context.Context, filter domain.SeriesFilter) ([]domain.SeriesPoint, error)
	ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error)
	ListExpiringLots(ctx context.Context, windowDays int, limit int) ([]domain.ExpiringLot, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
