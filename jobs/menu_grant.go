package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// MenuGrantJob applies default menu grants queued by the API process.
type MenuGrantJob struct {
	Engine  *authz.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMenuGrantJob wires dependencies for the grant handler.
func NewMenuGrantJob(engine *authz.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *MenuGrantJob {
	return &MenuGrantJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle processes TaskMenuGrantDefault tasks. The engine is reloaded
// first so the save that follows does not overwrite newer rules written
// by another process.
func (j *MenuGrantJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("menu grant: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskMenuGrantDefault)
	defer func() { resultErr = tracker.End(resultErr) }()

	var payload MenuGrantDefaultPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RouteKey == "" || payload.Role == "" {
		return asynq.SkipRetry
	}

	logger := loggerFor(j.Logger, TaskMenuGrantDefault).With(
		slog.String("route_key", payload.RouteKey),
		slog.String("role", payload.Role))

	if err := j.Engine.Reload(ctx); err != nil {
		logger.Error("reload policies", slog.Any("error", err))
		return err
	}
	changed, err := j.Engine.Admin.GrantPermission(ctx, payload.Role, payload.RouteKey, authz.ActionView)
	if err != nil {
		logger.Error("grant default menu permission", slog.Any("error", err))
		return err
	}
	logger.Info("default menu permission applied", slog.Bool("changed", changed))
	return nil
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
