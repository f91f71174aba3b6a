package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"

	"github.com/subplot/subplot/internal/model"
)

// SaveFolderRule upserts the rule keyed by directory.
func (r *Repository) SaveFolderRule(rule model.FolderRule) error {
	_, err := r.conn.Exec(
		`INSERT INTO folder_rules (directory, preferred_source, insertion_position, language,
		                           title_bold, plot_italic, show_director, show_actors, show_released, show_genre)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(directory) DO UPDATE SET
		    preferred_source = excluded.preferred_source,
		    insertion_position = excluded.insertion_position,
		    language = excluded.language,
		    title_bold = excluded.title_bold,
		    plot_italic = excluded.plot_italic,
		    show_director = excluded.show_director,
		    show_actors = excluded.show_actors,
		    show_released = excluded.show_released,
		    show_genre = excluded.show_genre`,
		filepath.Clean(rule.Directory),
		nullableString(rule.PreferredSource), nullableString(rule.InsertionPosition), nullableString(rule.Language),
		nullableBool(rule.TitleBold), nullableBool(rule.PlotItalic), nullableBool(rule.ShowDirector),
		nullableBool(rule.ShowActors), nullableBool(rule.ShowReleased), nullableBool(rule.ShowGenre))
	return err
}

func (r *Repository) DeleteFolderRule(directory string) error {
	res, err := r.conn.Exec(`DELETE FROM folder_rules WHERE directory = ?`, filepath.Clean(directory))
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

func (r *Repository) ListFolderRules() ([]model.FolderRule, error) {
	rows, err := r.conn.Query(
		`SELECT directory, preferred_source, insertion_position, language,
		        title_bold, plot_italic, show_director, show_actors, show_released, show_genre
		 FROM folder_rules ORDER BY directory`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FolderRule
	for rows.Next() {
		rule, err := scanFolderRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// FolderRuleFor returns the rule whose directory is the longest prefix of
// path, walking parent directories so a rule on /media also covers
// /media/tv/show. Returns ErrNotFound when no subtree matches.
func (r *Repository) FolderRuleFor(path string) (*model.FolderRule, error) {
	dir := filepath.Dir(filepath.Clean(path))
	for {
		rule, err := r.folderRuleByDirectory(dir)
		if err == nil {
			return rule, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

func (r *Repository) folderRuleByDirectory(directory string) (*model.FolderRule, error) {
	return scanFolderRule(r.conn.QueryRow(
		`SELECT directory, preferred_source, insertion_position, language,
		        title_bold, plot_italic, show_director, show_actors, show_released, show_genre
		 FROM folder_rules WHERE directory = ?`, directory))
}

func scanFolderRule(row rowScanner) (*model.FolderRule, error) {
	var rule model.FolderRule
	var source, position, language sql.NullString
	var bold, italic, director, actors, released, genre sql.NullInt64
	err := row.Scan(&rule.Directory, &source, &position, &language,
		&bold, &italic, &director, &actors, &released, &genre)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rule.PreferredSource = source.String
	rule.InsertionPosition = position.String
	rule.Language = strings.TrimSpace(language.String)
	rule.TitleBold = scanNullableBool(bold)
	rule.PlotItalic = scanNullableBool(italic)
	rule.ShowDirector = scanNullableBool(director)
	rule.ShowActors = scanNullableBool(actors)
	rule.ShowReleased = scanNullableBool(released)
	rule.ShowGenre = scanNullableBool(genre)
	return &rule, nil
}
