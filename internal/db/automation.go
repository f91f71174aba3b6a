package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/subplot/subplot/internal/model"
)

// CreateAutomationRule stores a new rule and assigns it a UUID.
func (r *Repository) CreateAutomationRule(rule *model.AutomationRule) error {
	rule.ID = uuid.NewString()
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return err
	}
	folders, err := json.Marshal(rule.TargetFolders)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(
		`INSERT INTO automation_rules (id, name, schedule, enabled, patterns_json, folders_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Schedule, boolToInt(rule.Enabled),
		string(patterns), string(folders), fmtTime(now), fmtTime(now))
	return err
}

func (r *Repository) UpdateAutomationRule(rule *model.AutomationRule) error {
	rule.UpdatedAt = time.Now()

	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return err
	}
	folders, err := json.Marshal(rule.TargetFolders)
	if err != nil {
		return err
	}
	res, err := r.conn.Exec(
		`UPDATE automation_rules
		 SET name = ?, schedule = ?, enabled = ?, patterns_json = ?, folders_json = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Name, rule.Schedule, boolToInt(rule.Enabled),
		string(patterns), string(folders), fmtTime(rule.UpdatedAt), rule.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteAutomationRule(id string) error {
	res, err := r.conn.Exec(`DELETE FROM automation_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetAutomationRule(id string) (*model.AutomationRule, error) {
	return scanAutomationRule(r.conn.QueryRow(
		`SELECT id, name, schedule, enabled, patterns_json, folders_json, last_run_at, created_at, updated_at
		 FROM automation_rules WHERE id = ?`, id))
}

func (r *Repository) ListAutomationRules() ([]model.AutomationRule, error) {
	rows, err := r.conn.Query(
		`SELECT id, name, schedule, enabled, patterns_json, folders_json, last_run_at, created_at, updated_at
		 FROM automation_rules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AutomationRule
	for rows.Next() {
		rule, err := scanAutomationRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// EnabledAutomationRules returns only rules the scheduler should evaluate.
func (r *Repository) EnabledAutomationRules() ([]model.AutomationRule, error) {
	rows, err := r.conn.Query(
		`SELECT id, name, schedule, enabled, patterns_json, folders_json, last_run_at, created_at, updated_at
		 FROM automation_rules WHERE enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AutomationRule
	for rows.Next() {
		rule, err := scanAutomationRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *Repository) TouchRuleLastRun(id string, at time.Time) error {
	_, err := r.conn.Exec(`UPDATE automation_rules SET last_run_at = ? WHERE id = ?`, fmtTime(at), id)
	return err
}

func (r *Repository) AddAutomationLog(entry model.AutomationLog) error {
	_, err := r.conn.Exec(
		`INSERT INTO automation_logs (rule_id, file_path, modified, removed_lines, dry_run, error_message, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RuleID, entry.FilePath, boolToInt(entry.Modified), entry.RemovedLines,
		boolToInt(entry.DryRun), nullableString(entry.ErrorMessage), fmtTime(time.Now()))
	return err
}

func (r *Repository) AutomationLogs(ruleID string, limit int) ([]model.AutomationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, rule_id, file_path, modified, removed_lines, dry_run, error_message, executed_at
	          FROM automation_logs`
	args := []any{}
	if ruleID != "" {
		query += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY executed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AutomationLog
	for rows.Next() {
		var l model.AutomationLog
		var modified, dryRun int
		var errMsg sql.NullString
		var executedAt string
		if err := rows.Scan(&l.ID, &l.RuleID, &l.FilePath, &modified, &l.RemovedLines, &dryRun, &errMsg, &executedAt); err != nil {
			return nil, err
		}
		l.Modified = modified != 0
		l.DryRun = dryRun != 0
		l.ErrorMessage = errMsg.String
		l.ExecutedAt = parseTime(executedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanAutomationRule(row rowScanner) (*model.AutomationRule, error) {
	var rule model.AutomationRule
	var enabled int
	var patterns, folders, createdAt, updatedAt string
	var lastRun sql.NullString
	err := row.Scan(&rule.ID, &rule.Name, &rule.Schedule, &enabled, &patterns, &folders,
		&lastRun, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(patterns), &rule.Patterns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(folders), &rule.TargetFolders); err != nil {
		return nil, err
	}
	rule.LastRunAt = scanNullableTime(lastRun)
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)
	return &rule, nil
}
