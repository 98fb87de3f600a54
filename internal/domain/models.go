package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DocKindInvoice      = "invoice"
	DocKindFiscalCredit = "fiscal_credit"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Code      string          `json:"code"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImagePath string          `json:"image_path,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Lot is a dated sub-batch of a product's stock. Active lots (current
// quantity > 0) sum to the owning product's aggregate quantity.
type Lot struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	LotCode    string    `json:"lot_code,omitempty"`
	ExpiryDate time.Time `json:"expiry_date"`
	InitialQty int       `json:"initial_qty"`
	CurrentQty int       `json:"current_qty"`
	ReceivedAt time.Time `json:"received_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Document struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Number          int64           `json:"number"`
	CustomerName    string          `json:"customer_name"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	CustomerTaxID   string          `json:"customer_tax_id,omitempty"`
	PaymentTerms    string          `json:"payment_terms,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	RetainedTax     decimal.Decimal `json:"retained_tax"`
	Total           decimal.Decimal `json:"total"`
	RemissionRefs   string          `json:"remission_refs,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	IssueDate       time.Time       `json:"issue_date"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []LineItem      `json:"items,omitempty"`
}

// LineItem snapshots name and unit price at creation time. StockApplied is
// the number of units actually deducted from the referenced product's stock,
// which may be less than Qty when the decrement was floor-clamped at zero.
// Deletion restores exactly StockApplied, never Qty.
type LineItem struct {
	ID           int64           `json:"id"`
	DocumentID   string          `json:"document_id"`
	ProductID    string          `json:"product_id,omitempty"`
	Name         string          `json:"name"`
	Qty          int             `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	StockApplied int             `json:"stock_applied"`
}

// DocumentHeader is the caller-submitted header of a create request. The
// declared summary figures are kept only inside the stored audit payload;
// persisted subtotal and total are recomputed from the normalized items.
type DocumentHeader struct {
	CustomerName    string      `json:"customer_name" validate:"required"`
	CustomerAddress string      `json:"customer_address"`
	CustomerTaxID   string      `json:"customer_tax_id"`
	PaymentTerms    string      `json:"payment_terms"`
	PaymentMethod   string      `json:"payment_method"`
	IssueDate       string      `json:"issue_date"`
	Tax             json.Number `json:"tax"`
	RetainedTax     json.Number `json:"retained_tax"`
	Subtotal        json.Number `json:"subtotal"`
	Total           json.Number `json:"total"`
	RemissionRefs   string      `json:"remission_refs"`
}

// ItemInput tolerates the legacy client's alternate field spellings:
// quantity may arrive as "qty" or "quantity", price as "price" or
// "unit_price", and the display name as "name" or "description".
type ItemInput struct {
	ProductID   string      `json:"product_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Qty         json.Number `json:"qty"`
	Quantity    json.Number `json:"quantity"`
	Price       json.Number `json:"price"`
	UnitPrice   json.Number `json:"unit_price"`
}

type CreateDocumentRequest struct {
	Header DocumentHeader `json:"header"`
	Items  []ItemInput    `json:"items"`
}

type DocumentReceipt struct {
	ID     string          `json:"id"`
	Number int64           `json:"number"`
	Total  decimal.Decimal `json:"total"`
}

type LotReceiveRequest struct {
	ProductID  string `json:"product_id"`
	LotCode    string `json:"lot_code"`
	ExpiryDate string `json:"expiry_date"`
	Qty        int    `json:"qty"`
}

type LotCorrectRequest struct {
	LotCode    string `json:"lot_code"`
	ExpiryDate string `json:"expiry_date"`
	Qty        int    `json:"qty"`
}

type TopProduct struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitsSold int64           `json:"units_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

const (
	SeriesBucketDay   = "day"
	SeriesBucketMonth = "month"

	SeriesMeasureCount = "count"
	SeriesMeasureValue = "value"
)

// SeriesFilter is the closed set of sales-series query parameters. Empty
// string fields mean "no filter"; free-form clause assembly is not allowed.
type SeriesFilter struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Bucket        string    `json:"bucket"`
	Measure       string    `json:"measure"`
	Kind          string    `json:"kind"`
	PaymentMethod string    `json:"payment_method"`
	ProductID     string    `json:"product_id"`
}

type SeriesPoint struct {
	Bucket string          `json:"bucket"`
	Count  int64           `json:"count"`
	Value  decimal.Decimal `json:"value"`
}

type ExpiringLot struct {
	Lot
	ProductName string `json:"product_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
