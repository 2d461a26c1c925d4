package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocType keys the numbering counter. Transport documents share one
// per-year sequence.
const DocType = "DDT"

// State represents the transport document lifecycle.
type State string

const (
	// StateDraft allows free editing and has no stock effect.
	StateDraft State = "DRAFT"
	// StateIssued means every line was unloaded from the origin warehouse.
	StateIssued State = "ISSUED"
	// StateCancelled is terminal; stock was restored on transition.
	StateCancelled State = "CANCELLED"
)

// IsValid checks the state value.
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateIssued, StateCancelled:
		return true
	default:
		return false
	}
}

// CanEdit reports whether header and lines may change.
func (s State) CanEdit() bool { return s == StateDraft }

// CanIssue reports whether the document may transition to ISSUED.
func (s State) CanIssue() bool { return s == StateDraft }

// CanCancel reports whether the document may transition to CANCELLED.
// Drafts are discarded instead; they never touched stock.
func (s State) CanCancel() bool { return s == StateIssued }

// TransportDocument is the outbound shipment aggregate. (Number, Year) is
// unique; the numbering counter allocates it at creation.
type TransportDocument struct {
	ID                   int64           `json:"id"`
	Number               int             `json:"number"`
	Year                 int             `json:"year"`
	DocumentDate         time.Time       `json:"document_date"`
	TransportAt          *time.Time      `json:"transport_at,omitempty"`
	RecipientID          *int64          `json:"recipient_id,omitempty"`
	AlternateDestination *string         `json:"alternate_destination,omitempty"`
	OriginWarehouseID    int64           `json:"origin_warehouse_id"`
	TransportReason      string          `json:"transport_reason"`
	GoodsAppearance      string          `json:"goods_appearance"`
	PackageCount         int             `json:"package_count"`
	WeightKg             decimal.Decimal `json:"weight_kg"`
	CarrierTerms         string          `json:"carrier_terms"`
	CarrierName          string          `json:"carrier_name"`
	Notes                *string         `json:"notes,omitempty"`
	State                State           `json:"state"`
	CreatedBy            *int64          `json:"created_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Lines                []Line          `json:"lines,omitempty"`
}

// Reference is the ledger document reference shared by issuance unloads and
// cancellation reloads, keeping reverse movements traceable to the document.
func (d *TransportDocument) Reference() string {
	return fmt.Sprintf("DDT %d/%d", d.Number, d.Year)
}

// Line is one document line. Lines are ordered and immutable once the
// document leaves DRAFT.
type Line struct {
	ID            int64           `json:"id"`
	DocumentID    int64           `json:"document_id"`
	ProductID     int64           `json:"product_id"`
	LotID         *int64          `json:"lot_id,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	LineOrder     int             `json:"line_order"`
}

// Recipient is a shipping destination from the address book.
type Recipient struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province"`
	VATNumber  string `json:"vat_number"`
	Active     bool   `json:"active"`
}

// DocumentView joins a document with display names for listings.
type DocumentView struct {
	TransportDocument
	RecipientName *string         `json:"recipient_name,omitempty"`
	WarehouseName string          `json:"warehouse_name"`
	LineCount     int             `json:"line_count"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
}

// CreateRequest creates a draft document.
type CreateRequest struct {
	OriginWarehouseID    int64           `json:"origin_warehouse_id" validate:"required,gt=0"`
	DocumentDate         time.Time       `json:"document_date"`
	TransportAt          *time.Time      `json:"transport_at,omitempty"`
	RecipientID          *int64          `json:"recipient_id,omitempty" validate:"omitempty,gt=0"`
	AlternateDestination *string         `json:"alternate_destination,omitempty" validate:"omitempty,max=255"`
	TransportReason      string          `json:"transport_reason" validate:"omitempty,max=100"`
	GoodsAppearance      string          `json:"goods_appearance" validate:"omitempty,max=100"`
	PackageCount         int             `json:"package_count" validate:"gte=0"`
	WeightKg             decimal.Decimal `json:"weight_kg"`
	CarrierTerms         string          `json:"carrier_terms" validate:"omitempty,max=100"`
	CarrierName          string          `json:"carrier_name" validate:"omitempty,max=200"`
	Notes                *string         `json:"notes,omitempty"`
}

// AddLineRequest appends a line to a draft document. Description, unit of
// measure, price and tax rate default from the product catalog when empty.
type AddLineRequest struct {
	ProductID     int64            `json:"product_id" validate:"required,gt=0"`
	LotID         *int64           `json:"lot_id,omitempty" validate:"omitempty,gt=0"`
	Description   string           `json:"description" validate:"omitempty,max=255"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitOfMeasure string           `json:"unit_of_measure" validate:"omitempty,max=10"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`
}

// UpdateHeaderRequest updates draft header fields. Nil fields are untouched.
type UpdateHeaderRequest struct {
	DocumentDate         *time.Time       `json:"document_date,omitempty"`
	TransportAt          *time.Time       `json:"transport_at,omitempty"`
	RecipientID          *int64           `json:"recipient_id,omitempty"`
	AlternateDestination *string          `json:"alternate_destination,omitempty"`
	TransportReason      *string          `json:"transport_reason,omitempty"`
	GoodsAppearance      *string          `json:"goods_appearance,omitempty"`
	PackageCount         *int             `json:"package_count,omitempty"`
	WeightKg             *decimal.Decimal `json:"weight_kg,omitempty"`
	CarrierTerms         *string          `json:"carrier_terms,omitempty"`
	CarrierName          *string          `json:"carrier_name,omitempty"`
	Notes                *string          `json:"notes,omitempty"`
}

// ListFilter narrows document listings. Zero fields are ignored.
type ListFilter struct {
	Year        int
	State       State
	RecipientID int64
	From        time.Time
	To          time.Time
	Page        int
	PerPage     int
}

// SaveRecipientRequest creates or updates an address-book entry.
type SaveRecipientRequest struct {
	Code       string `json:"code" validate:"omitempty,max=20"`
	Name       string `json:"name" validate:"required,max=200"`
	Address    string `json:"address" validate:"omitempty,max=255"`
	City       string `json:"city" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code" validate:"omitempty,max=10"`
	Province   string `json:"province" validate:"omitempty,max=5"`
	VATNumber  string `json:"vat_number" validate:"omitempty,max=20"`
}

// Errors reported by the lifecycle service.
var (
	ErrDocumentNotFound  = errors.New("document: not found")
	ErrLineNotFound      = errors.New("document: line not found")
	ErrRecipientNotFound = errors.New("document: recipient not found")
	ErrNotDraft          = errors.New("document: not in draft state")
	ErrNotIssued         = errors.New("document: not in issued state")
	ErrEmptyDocument     = errors.New("document: cannot issue a document without lines")
	ErrStateChanged      = errors.New("document: state changed concurrently")
)

// CompensationError reports the severe case where a lifecycle transition
// failed after stock had already moved AND the compensating movements also
// failed. Stock and document state are inconsistent; operator attention is
// required.
type CompensationError struct {
	DocumentID   int64
	Reference    string
	Cause        error
	Compensation error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("document %s (id %d): transition failed (%v) and compensation failed (%v): stock and document state are inconsistent",
		e.Reference, e.DocumentID, e.Cause, e.Compensation)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
