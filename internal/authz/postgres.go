package authz

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const rulesTable = "authz_rules"

var ruleColumns = []string{"namespace", "ptype", "v0", "v1", "v2", "v3", "v4", "v5"}

// PGAdapter persists rules in the authz_rules table, one row per tuple.
type PGAdapter struct {
	pool *pgxpool.Pool
}

// NewPGAdapter returns an adapter over pool. The pool is owned by the caller.
func NewPGAdapter(pool *pgxpool.Pool) *PGAdapter {
	return &PGAdapter{pool: pool}
}

// LoadRules implements Adapter.
func (a *PGAdapter) LoadRules(ctx context.Context, namespace string) ([]Rule, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT ptype, v0, v1, v2, v3, v4, v5 FROM `+rulesTable+` WHERE namespace = $1 ORDER BY id`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("authz/postgres: query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var ptype string
		values := make([]string, maxRuleValues)
		if err := rows.Scan(&ptype, &values[0], &values[1], &values[2], &values[3], &values[4], &values[5]); err != nil {
			return nil, fmt.Errorf("authz/postgres: scan rule: %w", err)
		}
		rules = append(rules, Rule{PType: ptype, Values: trimTrailingEmpty(values)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz/postgres: read rules: %w", err)
	}
	return rules, nil
}

// SaveRules implements Adapter. The namespace is cleared and rewritten in a
// single transaction, so readers see either the old or the new snapshot.
func (a *PGAdapter) SaveRules(ctx context.Context, namespace string, rules []Rule) error {
	return db.WithTx(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+rulesTable+` WHERE namespace = $1`, namespace); err != nil {
			return fmt.Errorf("authz/postgres: clear namespace: %w", err)
		}
		if len(rules) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{rulesTable}, ruleColumns,
			pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
				r := rules[i]
				if len(r.Values) > maxRuleValues {
					return nil, fmt.Errorf("rule %s has %d values, max %d", r.PType, len(r.Values), maxRuleValues)
				}
				row := []any{namespace, r.PType}
				for v := 0; v < maxRuleValues; v++ {
					row = append(row, r.Value(v))
				}
				return row, nil
			}))
		if err != nil {
			return fmt.Errorf("authz/postgres: copy rules: %w", err)
		}
		return nil
	})
}

func trimTrailingEmpty(values []string) []string {
	n := len(values)
	for n > 0 && values[n-1] == "" {
		n--
	}
	return values[:n]
}

var _ Adapter = (*PGAdapter)(nil)
