package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/subplot/subplot/internal/model"
)

// SaveSuggestedMatch upserts the suggestion keyed by file path. A rescan of
// the same file replaces the previous suggestion.
func (r *Repository) SaveSuggestedMatch(filePath string, match model.MetadataRecord) error {
	payload, err := json.Marshal(match)
	if err != nil {
		return err
	}
	now := fmtTime(time.Now())
	_, err = r.conn.Exec(
		`INSERT INTO suggested_matches (file_path, file_name, match_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET match_json = excluded.match_json, updated_at = excluded.updated_at`,
		filePath, filepath.Base(filePath), string(payload), now, now)
	return err
}

func (r *Repository) SuggestedMatches() ([]model.SuggestedMatch, error) {
	rows, err := r.conn.Query(
		`SELECT id, file_path, file_name, match_json, created_at, updated_at
		 FROM suggested_matches ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SuggestedMatch
	for rows.Next() {
		var m model.SuggestedMatch
		var payload, createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.FilePath, &m.FileName, &payload, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &m.Match); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) SuggestedMatchByPath(filePath string) (*model.SuggestedMatch, error) {
	var m model.SuggestedMatch
	var payload, createdAt, updatedAt string
	err := r.conn.QueryRow(
		`SELECT id, file_path, file_name, match_json, created_at, updated_at
		 FROM suggested_matches WHERE file_path = ?`, filePath).
		Scan(&m.ID, &m.FilePath, &m.FileName, &payload, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &m.Match); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

func (r *Repository) DeleteSuggestedMatch(filePath string) error {
	res, err := r.conn.Exec(`DELETE FROM suggested_matches WHERE file_path = ?`, filePath)
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

func (r *Repository) ClearSuggestedMatches() (int64, error) {
	res, err := r.conn.Exec(`DELETE FROM suggested_matches`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
