package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

type fakeFinder struct {
	lots     []inventory.ExpiringLot
	gotDays  int
	requests int
}

func (f *fakeFinder) FindExpiringLots(ctx context.Context, days int) ([]inventory.ExpiringLot, error) {
	f.gotDays = days
	f.requests++
	return f.lots, nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (f *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func expiringLot(id int64, number string) inventory.ExpiringLot {
	return expiringLotIn(id, number, 10)
}

func expiringLotIn(id int64, number string, days int) inventory.ExpiringLot {
	expiry := time.Now().AddDate(0, 0, days)
	return inventory.ExpiringLot{
		Lot: inventory.Lot{
			ID:         id,
			ProductID:  1,
			LotNumber:  number,
			ExpiryDate: &expiry,
			Quantity:   decimal.NewFromInt(5),
		},
		ProductCode:   "FLR-00",
		WarehouseName: "Main",
		DaysToExpiry:  days,
	}
}

func TestExpiringLotsScanRecordsFindings(t *testing.T) {
	finder := &fakeFinder{lots: []inventory.ExpiringLot{expiringLot(1, "L-1"), expiringLot(2, "L-2")}}
	audit := &fakeAudit{}
	scanner := NewExpiringLotsScanner(finder, audit, nil)

	task, err := NewExpiringLotsTask(15, time.Now())
	require.NoError(t, err)

	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Equal(t, 15, finder.gotDays)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "jobs:expiring-lots-scan", audit.logs[0].Action)
	require.Equal(t, 2, audit.logs[0].Meta["lots"])
}

func TestExpiringLotsScanAppliesWindow(t *testing.T) {
	undated := expiringLot(3, "L-undated")
	undated.ExpiryDate = nil
	finder := &fakeFinder{lots: []inventory.ExpiringLot{
		expiringLotIn(1, "L-soon", 10),
		expiringLotIn(2, "L-later", 40),
		undated,
	}}
	audit := &fakeAudit{}
	scanner := NewExpiringLotsScanner(finder, audit, nil)

	task, err := NewExpiringLotsTask(30, time.Now())
	require.NoError(t, err)

	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Len(t, audit.logs, 1)
	require.Equal(t, 1, audit.logs[0].Meta["lots"])
}

func TestUpcomingExpiriesSortsSoonestFirst(t *testing.T) {
	undated := expiringLot(4, "L-undated")
	undated.ExpiryDate = nil
	lots := []inventory.ExpiringLot{
		expiringLotIn(1, "L-20", 20),
		expiringLotIn(2, "L-5", 5),
		expiringLotIn(3, "L-40", 40),
		undated,
	}

	kept := upcomingExpiries(lots, time.Now(), 30)
	require.Len(t, kept, 2)
	require.Equal(t, "L-5", kept[0].LotNumber)
	require.Equal(t, "L-20", kept[1].LotNumber)
}

func TestExpiringLotsScanDefaultsWindow(t *testing.T) {
	finder := &fakeFinder{}
	scanner := NewExpiringLotsScanner(finder, nil, nil)

	task, err := NewExpiringLotsTask(0, time.Now())
	require.NoError(t, err)

	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Equal(t, 30, finder.gotDays)
}

func TestExpiringLotsScanSkipsMalformedPayload(t *testing.T) {
	finder := &fakeFinder{}
	scanner := NewExpiringLotsScanner(finder, nil, nil)

	task := asynq.NewTask(TaskExpiringLotsScan, []byte("{not json"))
	err := scanner.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, finder.requests)
}
