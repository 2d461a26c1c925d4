package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stockyard-erp/stockyard-erp/internal/catalog"
	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (TransportDocument, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]DocumentView, error)
	CountDocuments(ctx context.Context, filter ListFilter) (int, error)
	GetRecipient(ctx context.Context, id int64) (Recipient, error)
	ListRecipients(ctx context.Context, search string) ([]Recipient, error)
	CreateRecipient(ctx context.Context, rec Recipient) (int64, error)
	UpdateRecipient(ctx context.Context, rec Recipient) error
}

// StockMover is the inventory engine surface the lifecycle needs. Both batch
// calls are all-or-nothing: any failing line means zero writes.
type StockMover interface {
	UnloadBatch(ctx context.Context, inputs []inventory.UnloadInput) ([]int64, error)
	LoadBatch(ctx context.Context, inputs []inventory.LoadInput) ([]int64, error)
}

// IdempotencyPort guards issue and cancel against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts lifecycle transitions.
type MetricsPort interface {
	ObserveDocumentTransition(transition string)
}

// Service drives the transport document lifecycle. Stock only ever moves
// through the inventory engine; the service decides when and compensates
// when a transition fails halfway.
type Service struct {
	repo        RepositoryPort
	stock       StockMover
	lookup      catalog.Lookup
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     MetricsPort
	logger      *slog.Logger
}

// NewService builds the service. idempotency, audit and metrics may be nil.
func NewService(repo RepositoryPort, stock StockMover, lookup catalog.Lookup, idempotency IdempotencyPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		stock:       stock,
		lookup:      lookup,
		idempotency: idempotency,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// Create opens a draft document and allocates its (number, year) from the
// counter in the same transaction as the insert, so an allocated number is
// never left without a document.
func (s *Service) Create(ctx context.Context, req CreateRequest, userID *int64) (TransportDocument, error) {
	if _, err := s.lookup.Warehouse(ctx, req.OriginWarehouseID); err != nil {
		return TransportDocument{}, err
	}
	if req.RecipientID != nil {
		if _, err := s.repo.GetRecipient(ctx, *req.RecipientID); err != nil {
			return TransportDocument{}, err
		}
	}
	documentDate := req.DocumentDate
	if documentDate.IsZero() {
		documentDate = time.Now().UTC()
	}
	transportReason := req.TransportReason
	if transportReason == "" {
		transportReason = "sale"
	}
	carrierTerms := req.CarrierTerms
	if carrierTerms == "" {
		carrierTerms = "sender"
	}

	var documentID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, DocType, documentDate.Year())
		if err != nil {
			return err
		}
		documentID, err = tx.InsertDocument(ctx, TransportDocument{
			Number:               number,
			Year:                 documentDate.Year(),
			DocumentDate:         documentDate,
			TransportAt:          req.TransportAt,
			RecipientID:          req.RecipientID,
			AlternateDestination: req.AlternateDestination,
			OriginWarehouseID:    req.OriginWarehouseID,
			TransportReason:      transportReason,
			GoodsAppearance:      req.GoodsAppearance,
			PackageCount:         req.PackageCount,
			WeightKg:             req.WeightKg,
			CarrierTerms:         carrierTerms,
			CarrierName:          req.CarrierName,
			Notes:                req.Notes,
			State:                StateDraft,
			CreatedBy:            userID,
		})
		return err
	})
	if err != nil {
		return TransportDocument{}, err
	}
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return TransportDocument{}, err
	}
	s.logger.Info("document created",
		slog.Int64("document_id", doc.ID),
		slog.String("reference", doc.Reference()),
	)
	s.recordAudit(ctx, userID, "document:create", doc.ID, map[string]any{"reference": doc.Reference()})
	return doc, nil
}

// AddLine appends a line to a draft. Description, unit of measure, price and
// tax rate default from the product catalog when the request leaves them out.
// The draft check happens under the document row lock so an edit cannot slip
// past a concurrent Issue.
func (s *Service) AddLine(ctx context.Context, documentID int64, req AddLineRequest, userID *int64) (Line, error) {
	if !req.Quantity.IsPositive() {
		return Line{}, inventory.ErrInvalidQuantity
	}
	product, err := s.lookup.Product(ctx, req.ProductID)
	if err != nil {
		return Line{}, err
	}

	line := Line{
		DocumentID:    documentID,
		ProductID:     req.ProductID,
		LotID:         req.LotID,
		Description:   req.Description,
		Quantity:      req.Quantity,
		UnitOfMeasure: req.UnitOfMeasure,
	}
	if line.Description == "" {
		line.Description = product.Name
	}
	if line.UnitOfMeasure == "" {
		line.UnitOfMeasure = product.UnitOfMeasure
	}
	if req.UnitPrice != nil {
		line.UnitPrice = *req.UnitPrice
	} else {
		line.UnitPrice = product.SalePrice
	}
	if req.TaxRate != nil {
		line.TaxRate = *req.TaxRate
	} else {
		line.TaxRate = product.TaxRate
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, lineCount, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.CanEdit() {
			return ErrNotDraft
		}
		line.LineOrder = lineCount + 1
		id, err := tx.InsertLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// RemoveLine deletes a line from a draft.
func (s *Service) RemoveLine(ctx context.Context, documentID, lineID int64, userID *int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, _, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.CanEdit() {
			return ErrNotDraft
		}
		return tx.DeleteLine(ctx, documentID, lineID)
	})
}

// UpdateHeader changes draft header fields. Number, year and state never
// change through this path.
func (s *Service) UpdateHeader(ctx context.Context, documentID int64, req UpdateHeaderRequest, userID *int64) (TransportDocument, error) {
	if req.RecipientID != nil && *req.RecipientID != 0 {
		if _, err := s.repo.GetRecipient(ctx, *req.RecipientID); err != nil {
			return TransportDocument{}, err
		}
	}

	updates := map[string]any{}
	if req.DocumentDate != nil {
		updates["document_date"] = *req.DocumentDate
	}
	if req.TransportAt != nil {
		updates["transport_at"] = *req.TransportAt
	}
	if req.RecipientID != nil {
		updates["recipient_id"] = *req.RecipientID
	}
	if req.AlternateDestination != nil {
		updates["alternate_destination"] = *req.AlternateDestination
	}
	if req.TransportReason != nil {
		updates["transport_reason"] = *req.TransportReason
	}
	if req.GoodsAppearance != nil {
		updates["goods_appearance"] = *req.GoodsAppearance
	}
	if req.PackageCount != nil {
		updates["package_count"] = *req.PackageCount
	}
	if req.WeightKg != nil {
		updates["weight_kg"] = *req.WeightKg
	}
	if req.CarrierTerms != nil {
		updates["carrier_terms"] = *req.CarrierTerms
	}
	if req.CarrierName != nil {
		updates["carrier_name"] = *req.CarrierName
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, _, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.CanEdit() {
			return ErrNotDraft
		}
		return tx.UpdateHeader(ctx, documentID, updates)
	})
	if err != nil {
		return TransportDocument{}, err
	}
	return s.repo.GetDocument(ctx, documentID)
}

// Issue transitions DRAFT -> ISSUED. Every line is unloaded from the origin
// warehouse in a single inventory transaction; if any line is short the whole
// document stays in DRAFT with zero stock effect. Should the state flip fail
// after the unloads committed, the unloads are compensated by reloading.
func (s *Service) Issue(ctx context.Context, documentID int64, userID *int64) (TransportDocument, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return TransportDocument{}, err
	}
	if !doc.State.CanIssue() {
		return TransportDocument{}, ErrNotDraft
	}
	if len(doc.Lines) == 0 {
		return TransportDocument{}, ErrEmptyDocument
	}

	idemKey := fmt.Sprintf("document:issue:%d", documentID)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "document"); err != nil {
			return TransportDocument{}, err
		}
	}

	ref := doc.Reference()
	unloads := make([]inventory.UnloadInput, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		unloads = append(unloads, inventory.UnloadInput{
			ProductID:   line.ProductID,
			WarehouseID: doc.OriginWarehouseID,
			LotID:       line.LotID,
			Quantity:    line.Quantity,
			Reason:      "document issuance",
			DocumentRef: ref,
			UserID:      userID,
		})
	}
	if _, err := s.stock.UnloadBatch(ctx, unloads); err != nil {
		s.releaseIdempotency(ctx, idemKey)
		return TransportDocument{}, err
	}

	// The flip takes the document row lock, so a draft edit either committed
	// before this point (the line count gives it away) or waits until the
	// document is ISSUED and gets rejected.
	flipErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, lineCount, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if state != StateDraft || lineCount != len(doc.Lines) {
			return ErrStateChanged
		}
		return tx.SetState(ctx, documentID, StateDraft, StateIssued)
	})
	if flipErr != nil {
		// Stock already left the warehouse; put it back before reporting.
		if compErr := s.reload(ctx, doc, "document issuance reverted", userID); compErr != nil {
			return TransportDocument{}, &CompensationError{
				DocumentID:   documentID,
				Reference:    ref,
				Cause:        flipErr,
				Compensation: compErr,
			}
		}
		s.releaseIdempotency(ctx, idemKey)
		return TransportDocument{}, flipErr
	}

	s.transitionCommitted(ctx, "issue", doc, userID)
	return s.repo.GetDocument(ctx, documentID)
}

// Cancel transitions ISSUED -> CANCELLED and restores the stock of every line
// with compensating loads under the same document reference. Drafts cannot be
// cancelled; Discard removes them instead.
func (s *Service) Cancel(ctx context.Context, documentID int64, userID *int64) (TransportDocument, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return TransportDocument{}, err
	}
	if !doc.State.CanCancel() {
		return TransportDocument{}, ErrNotIssued
	}

	idemKey := fmt.Sprintf("document:cancel:%d", documentID)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "document"); err != nil {
			return TransportDocument{}, err
		}
	}

	if err := s.reload(ctx, doc, "document cancellation", userID); err != nil {
		s.releaseIdempotency(ctx, idemKey)
		return TransportDocument{}, err
	}

	flipErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.LockDocument(ctx, documentID); err != nil {
			return err
		}
		return tx.SetState(ctx, documentID, StateIssued, StateCancelled)
	})
	if flipErr != nil {
		// The restock committed; take it back out so an issued document
		// never counts its goods twice.
		if compErr := s.unload(ctx, doc, "document cancellation reverted", userID); compErr != nil {
			return TransportDocument{}, &CompensationError{
				DocumentID:   documentID,
				Reference:    doc.Reference(),
				Cause:        flipErr,
				Compensation: compErr,
			}
		}
		s.releaseIdempotency(ctx, idemKey)
		return TransportDocument{}, flipErr
	}

	s.transitionCommitted(ctx, "cancel", doc, userID)
	return s.repo.GetDocument(ctx, documentID)
}

// Discard deletes a draft and its lines. Drafts never touched stock, so no
// movements are involved. Issued documents must be cancelled instead.
func (s *Service) Discard(ctx context.Context, documentID int64, userID *int64) error {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, _, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !state.CanEdit() {
			return ErrNotDraft
		}
		return tx.DeleteDocument(ctx, documentID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("document discarded",
		slog.Int64("document_id", documentID),
		slog.String("reference", doc.Reference()),
	)
	s.recordAudit(ctx, userID, "document:discard", documentID, map[string]any{"reference": doc.Reference()})
	return nil
}

// Get loads one document with lines.
func (s *Service) Get(ctx context.Context, documentID int64) (TransportDocument, error) {
	return s.repo.GetDocument(ctx, documentID)
}

// List serves the document register one page at a time.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]DocumentView, shared.Pagination, error) {
	if filter.State != "" && !filter.State.IsValid() {
		return nil, shared.Pagination{}, fmt.Errorf("document: unknown state %q", filter.State)
	}
	total, err := s.repo.CountDocuments(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views, err := s.repo.ListDocuments(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return views, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Recipients lists the active address book, optionally filtered.
func (s *Service) Recipients(ctx context.Context, search string) ([]Recipient, error) {
	return s.repo.ListRecipients(ctx, strings.TrimSpace(search))
}

// SaveRecipient creates or updates an address-book entry.
func (s *Service) SaveRecipient(ctx context.Context, id int64, req SaveRecipientRequest) (Recipient, error) {
	rec := Recipient{
		ID:         id,
		Code:       req.Code,
		Name:       req.Name,
		Address:    req.Address,
		City:       req.City,
		PostalCode: req.PostalCode,
		Province:   req.Province,
		VATNumber:  req.VATNumber,
		Active:     true,
	}
	if id == 0 {
		newID, err := s.repo.CreateRecipient(ctx, rec)
		if err != nil {
			return Recipient{}, err
		}
		rec.ID = newID
		return rec, nil
	}
	if err := s.repo.UpdateRecipient(ctx, rec); err != nil {
		return Recipient{}, err
	}
	return rec, nil
}

func (s *Service) reload(ctx context.Context, doc TransportDocument, reason string, userID *int64) error {
	ref := doc.Reference()
	loads := make([]inventory.LoadInput, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		loads = append(loads, inventory.LoadInput{
			ProductID:   line.ProductID,
			WarehouseID: doc.OriginWarehouseID,
			LotID:       line.LotID,
			Quantity:    line.Quantity,
			Reason:      reason,
			DocumentRef: ref,
			UserID:      userID,
		})
	}
	_, err := s.stock.LoadBatch(ctx, loads)
	return err
}

func (s *Service) unload(ctx context.Context, doc TransportDocument, reason string, userID *int64) error {
	ref := doc.Reference()
	unloads := make([]inventory.UnloadInput, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		unloads = append(unloads, inventory.UnloadInput{
			ProductID:   line.ProductID,
			WarehouseID: doc.OriginWarehouseID,
			LotID:       line.LotID,
			Quantity:    line.Quantity,
			Reason:      reason,
			DocumentRef: ref,
			UserID:      userID,
		})
	}
	_, err := s.stock.UnloadBatch(ctx, unloads)
	return err
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) transitionCommitted(ctx context.Context, transition string, doc TransportDocument, userID *int64) {
	if s.metrics != nil {
		s.metrics.ObserveDocumentTransition(transition)
	}
	s.logger.Info("document transition committed",
		slog.String("transition", transition),
		slog.Int64("document_id", doc.ID),
		slog.String("reference", doc.Reference()),
		slog.Int("lines", len(doc.Lines)),
	)
	s.recordAudit(ctx, userID, "document:"+transition, doc.ID, map[string]any{
		"reference": doc.Reference(),
		"lines":     len(doc.Lines),
	})
}

func (s *Service) recordAudit(ctx context.Context, userID *int64, action string, documentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	var actor int64
	if userID != nil {
		actor = *userID
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", documentID),
		Meta:     meta,
	})
}

var _ StockMover = (*inventory.Engine)(nil)
