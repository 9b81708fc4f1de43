package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matsen/scholartab/internal/paper"
)

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

const selectPaperFields = `id, title, publication_name, abstract, publish_date, cited_by_count, reference_count`

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS "papers" (
			id TEXT PRIMARY KEY,
			title TEXT,
			publication_name TEXT,
			abstract TEXT,
			publish_date TEXT,
			cited_by_count INTEGER,
			reference_count INTEGER
		);

		CREATE TABLE IF NOT EXISTS "classification_codes" (
			code TEXT PRIMARY KEY,
			name TEXT,
			abbreviation TEXT
		);

		CREATE TABLE IF NOT EXISTS "paper_to_classification_code" (
			paper_id TEXT NOT NULL REFERENCES "papers"(id),
			code TEXT NOT NULL REFERENCES "classification_codes"(code),
			PRIMARY KEY (paper_id, code)
		);

		CREATE TABLE IF NOT EXISTS "affiliations" (
			id TEXT PRIMARY KEY,
			name TEXT,
			city TEXT,
			country TEXT,
			href TEXT
		);

		CREATE TABLE IF NOT EXISTS "paper_to_affiliation" (
			paper_id TEXT NOT NULL REFERENCES "papers"(id),
			affiliation_id TEXT NOT NULL REFERENCES "affiliations"(id),
			PRIMARY KEY (paper_id, affiliation_id)
		);

		CREATE TABLE IF NOT EXISTS "references" (
			paper_id TEXT NOT NULL REFERENCES "papers"(id),
			reference_id TEXT NOT NULL,
			full_text TEXT,
			title TEXT,
			source_title TEXT,
			text TEXT,
			PRIMARY KEY (paper_id, reference_id)
		);

		CREATE TABLE IF NOT EXISTS "paper_reference_author" (
			paper_id TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (paper_id, reference_id, name)
		);

		CREATE TABLE IF NOT EXISTS "keywords" (
			keyword TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS "paper_to_keyword" (
			paper_id TEXT NOT NULL REFERENCES "papers"(id),
			keyword TEXT NOT NULL REFERENCES "keywords"(keyword),
			PRIMARY KEY (paper_id, keyword)
		);

		CREATE INDEX IF NOT EXISTS idx_papers_date ON "papers"(publish_date);

		-- Full-text search over titles and abstracts
		CREATE VIRTUAL TABLE IF NOT EXISTS papers_fts USING fts5(
			id,
			title,
			abstract,
			keywords_text
		);

		CREATE TABLE IF NOT EXISTS _meta (
			key TEXT PRIMARY KEY,
			value TEXT
		);
	`

	_, err := db.Exec(schema)
	return err
}

// RebuildFromTables replaces the contents of every table in one
// transaction and records the checkpoint hash. Returns the paper count.
func (d *DB) RebuildFromTables(t *paper.Tables, checkpointHash string) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range append([]string{"papers_fts"}, paper.TableNames...) {
		if _, err := tx.Exec(`DELETE FROM ` + quoteIdent(name)); err != nil {
			return 0, fmt.Errorf("clearing %s: %w", name, err)
		}
	}

	for _, tbl := range t.List() {
		if err := insertTable(tx, tbl); err != nil {
			return 0, err
		}
	}

	if err := insertFTS(tx, t); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES ('checkpoint_hash', ?)`, checkpointHash); err != nil {
		return 0, fmt.Errorf("storing hash: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES ('last_sync', ?)`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("storing sync time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return len(t.Papers), nil
}

func insertTable(tx *sql.Tx, tbl paper.Table) error {
	names := make([]string, len(tbl.Columns))
	marks := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(tbl.Name), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", tbl.Name, err)
	}
	defer stmt.Close()

	for i, row := range tbl.Rows {
		if _, err := stmt.Exec(sqlValues(row)...); err != nil {
			return fmt.Errorf("inserting %s row %d: %w", tbl.Name, i, err)
		}
	}
	return nil
}

func insertFTS(tx *sql.Tx, t *paper.Tables) error {
	keywordsByPaper := make(map[string][]string)
	for _, l := range t.PaperKeywords {
		keywordsByPaper[l.PaperID] = append(keywordsByPaper[l.PaperID], l.Keyword)
	}

	stmt, err := tx.Prepare(`INSERT INTO papers_fts (id, title, abstract, keywords_text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing fts insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range t.Papers {
		if _, err := stmt.Exec(p.ID, p.Title, p.Abstract, strings.Join(keywordsByPaper[p.ID], ", ")); err != nil {
			return fmt.Errorf("inserting fts for %s: %w", p.ID, err)
		}
	}
	return nil
}

func sqlValues(row paper.Row) []any {
	vals := row.Values()
	out := make([]any, len(vals))
	for i, v := range vals {
		switch tv := v.(type) {
		case string:
			out[i] = nullableStringValue(tv)
		case *int64:
			if tv == nil {
				out[i] = sql.NullInt64{}
			} else {
				out[i] = sql.NullInt64{Int64: *tv, Valid: true}
			}
		default:
			out[i] = v
		}
	}
	return out
}

func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Count returns the number of rows in a table.
func (d *DB) Count(table string) (int, error) {
	if _, ok := paper.ColumnsFor(table); !ok {
		return 0, &paper.UnknownTableError{Name: table}
	}
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM ` + quoteIdent(table)).Scan(&count)
	return count, err
}

// Counts returns the row count of every table.
func (d *DB) Counts() (map[string]int, error) {
	out := make(map[string]int, len(paper.TableNames))
	for _, name := range paper.TableNames {
		c, err := d.Count(name)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}

// GetPaper retrieves a paper by id. Returns nil when absent.
func (d *DB) GetPaper(id string) (*paper.Paper, error) {
	row := d.db.QueryRow(`SELECT `+selectPaperFields+` FROM "papers" WHERE id = ?`, id)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// Search performs a full-text search over titles, abstracts and keywords.
func (d *DB) Search(query string, limit int) ([]paper.Paper, error) {
	ftsQuery := prepareFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := d.db.Query(`
		SELECT `+selectPaperFields+`
		FROM "papers"
		WHERE id IN (SELECT id FROM papers_fts WHERE papers_fts MATCH ?)
		ORDER BY publish_date DESC, id
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var papers []paper.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// StoredHash returns the checkpoint hash recorded by the last rebuild.
func (d *DB) StoredHash() (string, error) {
	var hash string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = 'checkpoint_hash'`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// LastSync returns the time of the last rebuild, or the zero time.
func (d *DB) LastSync() (time.Time, error) {
	var s string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = 'last_sync'`).Scan(&s)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPaper(s scanner) (*paper.Paper, error) {
	var p paper.Paper
	var title, venue, abstract, date sql.NullString
	var cited, refs sql.NullInt64

	if err := s.Scan(&p.ID, &title, &venue, &abstract, &date, &cited, &refs); err != nil {
		return nil, err
	}
	p.Title = title.String
	p.PublicationName = venue.String
	p.Abstract = abstract.String
	p.PublishDate = date.String
	if cited.Valid {
		p.CitedByCount = &cited.Int64
	}
	if refs.Valid {
		p.ReferenceCount = &refs.Int64
	}
	return &p, nil
}

// prepareFTSQuery escapes special characters for FTS5 queries.
func prepareFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	// FTS5 uses double quotes for phrase matching
	if strings.ContainsAny(query, "\"*+-:(){}[]^~") {
		query = strings.ReplaceAll(query, "\"", "\"\"")
		return "\"" + query + "\""
	}

	return query
}
