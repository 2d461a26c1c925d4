package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiringLotsScan triggers the daily expiring-lot sweep.
	TaskExpiringLotsScan = "lots:expiring-scan"
)

// ExpiringLotsPayload carries the scan window and scheduling metadata.
type ExpiringLotsPayload struct {
	Days         int       `json:"days"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpiringLotsTask constructs an Asynq task for the expiring-lot sweep.
func NewExpiringLotsTask(days int, at time.Time) (*asynq.Task, error) {
	payload := ExpiringLotsPayload{Days: days, ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiringLotsScan, body, asynq.Queue(QueueDefault)), nil
}
