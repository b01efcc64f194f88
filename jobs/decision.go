package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
	jobmetrics "github.com/odyssey-erp/reviewdesk/internal/jobs"
)

// Enqueuer is the subset of the asynq client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DecisionQueue submits desk decisions to the job queue.
type DecisionQueue struct {
	enqueuer Enqueuer
	clock    func() time.Time
}

// NewDecisionQueue constructs a DecisionQueue.
func NewDecisionQueue(enqueuer Enqueuer) *DecisionQueue {
	return &DecisionQueue{enqueuer: enqueuer, clock: time.Now}
}

// SubmitDecision implements desk.DecisionSubmitter.
func (q *DecisionQueue) SubmitDecision(ctx context.Context, rowID int64, decision desk.Decision) error {
	if q == nil || q.enqueuer == nil {
		return errors.New("jobs: decision queue not configured")
	}
	task, err := NewDecisionTask(rowID, decision, q.clock())
	if err != nil {
		return err
	}
	_, err = q.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("jobs: enqueue decision for row %d: %w", rowID, err)
	}
	return nil
}

// DecisionJob handles TaskDeskDecision tasks.
type DecisionJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDecisionJob wires dependencies for the decision handler.
func NewDecisionJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *DecisionJob {
	return &DecisionJob{Logger: logger, Metrics: metrics}
}

// Handle records a submitted decision.
func (j *DecisionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("desk decision: handler not configured")
	}
	var payload DecisionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if !payload.Decision.Action.Valid() || payload.RowID <= 0 {
		return fmt.Errorf("desk decision: malformed payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskDeskDecision)
	j.logger().Info("decision received",
		slog.Int64("row_id", payload.RowID),
		slog.String("action", string(payload.Decision.Action)),
		slog.Any("fields", payload.Decision.Fields()),
		slog.Time("submitted_at", payload.SubmittedAt),
	)
	return tracker.End(nil)
}

func (j *DecisionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
