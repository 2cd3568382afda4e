package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMenuGrantDefault grants the default role view on a new menu.
	TaskMenuGrantDefault = "authz:menu.grant_default"
	// TaskRulesAudit scans policies for objects that no menu uses.
	TaskRulesAudit = "authz:rules.audit"
)

// MenuGrantDefaultPayload names the menu route key and the role to grant.
type MenuGrantDefaultPayload struct {
	RouteKey string `json:"route_key"`
	Role     string `json:"role"`
}

// RulesAuditPayload controls the audit run. Prune removes orphaned policies
// instead of only reporting them.
type RulesAuditPayload struct {
	Prune bool `json:"prune"`
}

// NewMenuGrantDefaultTask constructs an Asynq task.
func NewMenuGrantDefaultTask(payload MenuGrantDefaultPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMenuGrantDefault, data), nil
}

// NewRulesAuditTask constructs an Asynq task.
func NewRulesAuditTask(prune bool) (*asynq.Task, error) {
	data, err := json.Marshal(RulesAuditPayload{Prune: prune})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRulesAudit, data), nil
}
