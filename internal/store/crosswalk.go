package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ppiankov/cfrfetch/internal/model"
)

// Crosswalk is a sqlite database relating titles, chapters and agencies for
// one run. It is recreated on every open.
type Crosswalk struct {
	db   *sql.DB
	path string
}

// OpenCrosswalk removes any database left at path by an earlier run and
// creates a fresh one with the schema applied.
func OpenCrosswalk(path string) (*Crosswalk, error) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale crosswalk: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open crosswalk: %w", err)
	}
	c := &Crosswalk{db: db, path: path}
	if err := c.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init crosswalk schema: %w", err)
	}
	return c, nil
}

// Path returns the database file path
func (c *Crosswalk) Path() string {
	return c.path
}

// Close closes the database
func (c *Crosswalk) Close() error {
	return c.db.Close()
}

func (c *Crosswalk) InitSchema() error {
	ddl := `
CREATE TABLE IF NOT EXISTS titles (
  number INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  latest_amended_on TEXT NOT NULL,
  latest_issue_date TEXT NOT NULL,
  up_to_date_as_of TEXT NOT NULL,
  reserved INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agencies (
  slug TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  short_name TEXT NOT NULL,
  json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
  agency_slug TEXT NOT NULL,
  title_number INTEGER NOT NULL,
  chapter TEXT NOT NULL,
  label TEXT NOT NULL,
  as_of TEXT NOT NULL,
  status TEXT NOT NULL,              -- persisted, skipped, confirmed, failed
  path TEXT NOT NULL,
  bytes INTEGER NOT NULL,
  attempts INTEGER NOT NULL,
  reason TEXT NOT NULL,
  recorded_at TEXT NOT NULL,
  PRIMARY KEY(agency_slug, title_number, chapter),
  FOREIGN KEY(agency_slug) REFERENCES agencies(slug),
  FOREIGN KEY(title_number) REFERENCES titles(number)
);

CREATE INDEX IF NOT EXISTS chapters_by_title ON chapters(title_number, chapter);
`
	_, err := c.db.Exec(ddl)
	return err
}

func (c *Crosswalk) UpsertTitles(ctx context.Context, titles []model.Title) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO titles(number, name, latest_amended_on, latest_issue_date, up_to_date_as_of, reserved)
VALUES(?,?,?,?,?,?)
ON CONFLICT(number) DO UPDATE SET name=excluded.name, latest_amended_on=excluded.latest_amended_on,
  latest_issue_date=excluded.latest_issue_date, up_to_date_as_of=excluded.up_to_date_as_of, reserved=excluded.reserved
`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range titles {
		res := 0
		if t.Reserved {
			res = 1
		}
		if _, err := stmt.ExecContext(ctx, t.Number, t.Name, t.LatestAmendedOn, t.LatestIssueDate, t.UpToDateAsOf, res); err != nil {
			return fmt.Errorf("title %d: %w", t.Number, err)
		}
	}
	return tx.Commit()
}

func (c *Crosswalk) UpsertAgencies(ctx context.Context, agencies []model.Agency) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO agencies(slug, name, short_name, json)
VALUES(?,?,?,?)
ON CONFLICT(slug) DO UPDATE SET name=excluded.name, short_name=excluded.short_name, json=excluded.json
`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range agencies {
		a.Children = nil
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("agency %s: %w", a.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, a.Key(), a.Name, a.ShortName, string(b)); err != nil {
			return fmt.Errorf("agency %s: %w", a.Key(), err)
		}
	}
	return tx.Commit()
}

// RecordUnits stores the outcome of each unit. Units must refer to agencies
// and titles already upserted.
func (c *Crosswalk) RecordUnits(ctx context.Context, units []model.UnitResult) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chapters(agency_slug, title_number, chapter, label, as_of, status, path, bytes, attempts, reason, recorded_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(agency_slug, title_number, chapter) DO UPDATE SET label=excluded.label, as_of=excluded.as_of,
  status=excluded.status, path=excluded.path, bytes=excluded.bytes, attempts=excluded.attempts,
  reason=excluded.reason, recorded_at=excluded.recorded_at
`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range units {
		reason := u.Reason
		if reason == "" {
			reason = u.Error
		}
		if _, err := stmt.ExecContext(ctx, u.Agency, u.Title, u.Chapter, u.Label, u.AsOf, string(u.Status),
			u.Path, u.Bytes, u.Attempts, reason, now); err != nil {
			return fmt.Errorf("unit %s title %d chapter %s: %w", u.Agency, u.Title, u.Chapter, err)
		}
	}
	return tx.Commit()
}

// ChaptersForAgency lists an agency's recorded chapters by title and chapter
func (c *Crosswalk) ChaptersForAgency(ctx context.Context, slug string) ([]model.UnitResult, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT agency_slug, title_number, chapter, label, as_of, status, path, bytes, attempts, reason
FROM chapters WHERE agency_slug=? ORDER BY title_number, chapter
`, slug)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.UnitResult
	for rows.Next() {
		var u model.UnitResult
		var status string
		if err := rows.Scan(&u.Agency, &u.Title, &u.Chapter, &u.Label, &u.AsOf, &status, &u.Path, &u.Bytes, &u.Attempts, &u.Reason); err != nil {
			return nil, err
		}
		u.Status = model.UnitStatus(status)
		out = append(out, u)
	}
	return out, rows.Err()
}

// AgenciesForChapter returns the slugs of agencies that reference a chapter
func (c *Crosswalk) AgenciesForChapter(ctx context.Context, title int, chapter string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT agency_slug FROM chapters WHERE title_number=? AND chapter=? ORDER BY agency_slug
`, title, chapter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// Save writes a finished run: titles, the agencies it covered and every unit
func (c *Crosswalk) Save(ctx context.Context, titles []model.Title, agencies []model.Agency, units []model.UnitResult) error {
	if err := c.UpsertTitles(ctx, titles); err != nil {
		return fmt.Errorf("crosswalk titles: %w", err)
	}
	if err := c.UpsertAgencies(ctx, agencies); err != nil {
		return fmt.Errorf("crosswalk agencies: %w", err)
	}
	if err := c.RecordUnits(ctx, units); err != nil {
		return fmt.Errorf("crosswalk chapters: %w", err)
	}
	return nil
}
