package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

// RouteKeySource lists the route keys of every menu.
type RouteKeySource interface {
	RouteKeys(ctx context.Context) ([]string, error)
}

// RulesAuditJob reports, and optionally prunes, policies granted on
// objects that no menu uses.
type RulesAuditJob struct {
	Engine  *authz.Engine
	Menus   RouteKeySource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Keep lists objects that are valid without a menu. The role
	// placeholder object is always kept.
	Keep []string
}

// NewRulesAuditJob wires dependencies for the audit handler.
func NewRulesAuditJob(engine *authz.Engine, menus RouteKeySource, logger *slog.Logger, metrics *jobmetrics.Metrics, keep ...string) *RulesAuditJob {
	return &RulesAuditJob{Engine: engine, Menus: menus, Logger: logger, Metrics: metrics, Keep: keep}
}

// OrphanedObjects returns the policy objects that are neither a route key
// nor in keep, distinct and in first-seen order.
func OrphanedObjects(policies []authz.Policy, routeKeys, keep []string) []string {
	known := make(map[string]struct{}, len(routeKeys)+len(keep))
	for _, k := range routeKeys {
		known[k] = struct{}{}
	}
	for _, k := range keep {
		known[k] = struct{}{}
	}
	seen := make(map[string]struct{})
	var orphans []string
	for _, p := range policies {
		if _, ok := known[p.Object]; ok {
			continue
		}
		if _, dup := seen[p.Object]; dup {
			continue
		}
		seen[p.Object] = struct{}{}
		orphans = append(orphans, p.Object)
	}
	return orphans
}

// Handle processes TaskRulesAudit tasks.
func (j *RulesAuditJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil || j.Menus == nil {
		return errors.New("rules audit: handler not configured")
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskRulesAudit)
	defer func() { resultErr = tracker.End(resultErr) }()

	var payload RulesAuditPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	logger := loggerFor(j.Logger, TaskRulesAudit)
	start := time.Now()

	if err := j.Engine.Reload(ctx); err != nil {
		logger.Error("reload policies", slog.Any("error", err))
		return err
	}
	routeKeys, err := j.Menus.RouteKeys(ctx)
	if err != nil {
		logger.Error("load route keys", slog.Any("error", err))
		return err
	}

	keep := append([]string{j.Engine.Admin.Placeholder()}, j.Keep...)
	orphans := OrphanedObjects(j.Engine.Admin.AllPolicies(), routeKeys, keep)
	metrics.AddOrphans(len(orphans))
	for _, object := range orphans {
		if !payload.Prune {
			logger.Warn("policy object has no menu", slog.String("object", object))
			continue
		}
		removed, err := j.Engine.Admin.RemoveObject(ctx, object)
		if err != nil {
			logger.Error("prune orphaned object", slog.String("object", object), slog.Any("error", err))
			return err
		}
		logger.Info("pruned orphaned object", slog.String("object", object), slog.Int("policies", removed))
	}
	logger.Info("rules audit completed",
		slog.Int("orphans", len(orphans)),
		slog.Bool("prune", payload.Prune),
		slog.Duration("duration", time.Since(start)))
	return nil
}
