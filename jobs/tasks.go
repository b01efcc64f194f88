package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDeskDecision carries an approve/deny decision submitted from the desk.
	TaskDeskDecision = "desk:decision"
)

// DecisionPayload is the JSON body of a TaskDeskDecision task.
type DecisionPayload struct {
	RowID       int64         `json:"row_id"`
	Decision    desk.Decision `json:"decision"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// NewDecisionTask constructs a TaskDeskDecision task.
func NewDecisionTask(rowID int64, decision desk.Decision, submittedAt time.Time) (*asynq.Task, error) {
	if !decision.Action.Valid() {
		return nil, fmt.Errorf("jobs: decision task: %w", desk.ErrInvalidAction)
	}
	data, err := json.Marshal(DecisionPayload{RowID: rowID, Decision: decision, SubmittedAt: submittedAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeskDecision, data), nil
}
