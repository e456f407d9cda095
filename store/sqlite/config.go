package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// CONFIGURATION STORE (circulation.ConfigProvider)
// =============================================================================

// Params reads the configuration table and parses it. Engines call this
// before opening their transaction.
func (s *Store) Params(ctx context.Context) (circulation.Params, error) {
	params, err := s.ListParams(ctx)
	if err != nil {
		return circulation.Params{}, err
	}
	values := make(map[string]string, len(params))
	for _, p := range params {
		values[p.Name] = p.Value
	}
	return circulation.ParseParams(values)
}

// ListParams returns every stored parameter by name.
func (s *Store) ListParams(ctx context.Context) ([]circulation.ConfigParam, error) {
	return read(s, func(q sqlx.ExtContext) ([]circulation.ConfigParam, error) {
		var out []circulation.ConfigParam
		if err := sqlx.SelectContext(ctx, q, &out,
			`SELECT name, value, description, editable FROM config ORDER BY name`); err != nil {
			return nil, fmt.Errorf("list config: %w", err)
		}
		return out, nil
	})
}

// SetParam changes an editable parameter. Unknown names fail with
// ParamNotFound, locked ones with ParamNotEditable and values that do not
// parse as the parameter's type with InvalidArgument.
func (s *Store) SetParam(ctx context.Context, name, value string) (*circulation.ConfigParam, error) {
	const op = "set config"
	value = strings.TrimSpace(value)
	spec, ok := circulation.LookupParamSpec(name)
	if !ok {
		return nil, &circulation.RuleError{Kind: circulation.KindParamNotFound, Op: op, Detail: name}
	}
	if err := circulation.ValidateParamValue(spec, value); err != nil {
		return nil, &circulation.RuleError{Kind: circulation.KindInvalidArgument, Op: op, Detail: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	current, err := one[circulation.ConfigParam](ctx, tx,
		`SELECT name, value, description, editable FROM config WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current == nil {
		return nil, &circulation.RuleError{Kind: circulation.KindParamNotFound, Op: op, Detail: name}
	}
	if !current.Editable {
		return nil, &circulation.RuleError{Kind: circulation.KindParamNotEditable, Op: op, Detail: name}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE config SET value = ? WHERE name = ?`, value, name); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	current.Value = value
	return current, nil
}
