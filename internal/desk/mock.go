package desk

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultMockLatency is the simulated network delay of MockBackend.
const DefaultMockLatency = time.Second

// SampleRows returns the static result set served by MockBackend.
func SampleRows() []Row {
	return []Row{
		{ID: 1, Name: "Item 1", Description: "Description 1"},
		{ID: 2, Name: "Item 2", Description: "Description 2"},
		{ID: 3, Name: "Item 3", Description: "Description 3"},
	}
}

// MockBackend serves static rows and accepts every decision after a simulated delay.
type MockBackend struct {
	latency time.Duration
	logger  *slog.Logger
}

// NewMockBackend constructs a MockBackend.
func NewMockBackend(latency time.Duration, logger *slog.Logger) *MockBackend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MockBackend{latency: latency, logger: logger}
}

// FetchRows implements RowFetcher.
func (m *MockBackend) FetchRows(ctx context.Context) ([]Row, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return SampleRows(), nil
}

// SubmitDecision implements DecisionSubmitter.
func (m *MockBackend) SubmitDecision(ctx context.Context, rowID int64, decision Decision) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.logger.Info("decision submitted",
		slog.Int64("row_id", rowID),
		slog.String("action", string(decision.Action)),
		slog.Any("fields", decision.Fields()),
	)
	return nil
}

func (m *MockBackend) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
