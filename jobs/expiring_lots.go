package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// ExpiringLotsFinder is the repository surface the sweep needs.
type ExpiringLotsFinder interface {
	FindExpiringLots(ctx context.Context, days int) ([]inventory.ExpiringLot, error)
}

// AuditRecorder persists the sweep outcome for the compliance trail.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ExpiringLotsScanner sweeps lots approaching their expiry date and records
// the findings. The scan reads only; disposal is an operator decision.
type ExpiringLotsScanner struct {
	finder ExpiringLotsFinder
	audit  AuditRecorder
	logger *slog.Logger
}

// NewExpiringLotsScanner constructs the scanner. audit may be nil.
func NewExpiringLotsScanner(finder ExpiringLotsFinder, audit AuditRecorder, logger *slog.Logger) *ExpiringLotsScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiringLotsScanner{finder: finder, audit: audit, logger: logger}
}

// Handle processes TaskExpiringLotsScan tasks.
func (s *ExpiringLotsScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpiringLotsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.Days
	if days <= 0 {
		days = 30
	}
	found, err := s.finder.FindExpiringLots(ctx, days)
	if err != nil {
		return err
	}
	lots := upcomingExpiries(found, time.Now(), days)
	for _, lot := range lots {
		s.logger.Warn("lot approaching expiry",
			slog.Int64("lot_id", lot.ID),
			slog.String("lot_number", lot.LotNumber),
			slog.String("product", lot.ProductCode),
			slog.String("warehouse", lot.WarehouseName),
			slog.String("quantity", lot.Quantity.String()),
			slog.Int("days_to_expiry", lot.DaysToExpiry),
		)
	}
	s.logger.Info("expiring lots scan finished",
		slog.Int("window_days", days),
		slog.Int("lots", len(lots)),
	)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "jobs:expiring-lots-scan",
			Entity:   "lot",
			EntityID: "sweep",
			Meta: map[string]any{
				"window_days": days,
				"lots":        len(lots),
			},
		})
	}
	return nil
}

// upcomingExpiries keeps the lots that expire inside the window, soonest
// first. Undated lots never alert.
func upcomingExpiries(lots []inventory.ExpiringLot, today time.Time, days int) []inventory.ExpiringLot {
	keep := make([]inventory.ExpiringLot, 0, len(lots))
	for _, lot := range lots {
		if lot.ExpiresWithin(today, days) {
			keep = append(keep, lot)
		}
	}
	sort.SliceStable(keep, func(i, j int) bool {
		return keep[i].ExpiryDate.Before(*keep[j].ExpiryDate)
	})
	return keep
}
