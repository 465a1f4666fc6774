package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Database provides high-level helpers around a SQLite connection. It is the
// persistence backend behind every store interface in the module.
type Database struct {
	db *sql.DB

	claimCopyStmt   *sql.Stmt
	releaseCopyStmt *sql.Stmt
	insertTxStmt    *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// busy_timeout lets concurrent writers queue; immediate transactions take
	// the write lock up front so read-then-write sequences cannot deadlock.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, st := range []*sql.Stmt{d.claimCopyStmt, d.releaseCopyStmt, d.insertTxStmt} {
		if st != nil {
			st.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE COLLATE NOCASE,
            full_name TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('librarian','faculty','student','public')),
            password_hash TEXT NOT NULL,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
            token_hash TEXT PRIMARY KEY,
            profile_id TEXT NOT NULL REFERENCES profiles(id),
            created_at DATETIME NOT NULL,
            expires_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id TEXT PRIMARY KEY,
            full_name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            membership_type TEXT NOT NULL,
            status TEXT NOT NULL,
            joined_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            copies INTEGER NOT NULL CHECK (copies >= 0),
            available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= copies),
            location TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        );`,
		// member_id carries no foreign key: history outlives the member row.
		`CREATE TABLE IF NOT EXISTS member_blacklist (
            id TEXT PRIMARY KEY,
            member_id TEXT NOT NULL,
            reason TEXT NOT NULL,
            blacklisted_by TEXT NOT NULL,
            blacklisted_at DATETIME NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1
        );`,
		`CREATE INDEX IF NOT EXISTS idx_blacklist_member ON member_blacklist(member_id, is_active);`,
		`CREATE TABLE IF NOT EXISTS transactions (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            member_id TEXT NOT NULL,
            book_id TEXT NOT NULL,
            book_title TEXT NOT NULL,
            type TEXT NOT NULL CHECK (type IN ('borrow','return')),
            transaction_date DATETIME NOT NULL,
            due_date DATETIME,
            returned_date DATETIME,
            status TEXT NOT NULL CHECK (status IN ('active','completed','overdue')),
            price REAL CHECK (price IS NULL OR price >= 0),
            processed_by TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status_due ON transactions(status, due_date);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions(member_id);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		args := []any{}
		if strings.Contains(stmt, "?") {
			args = append(args, schemaVersion)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	// SET expressions see the pre-update row, so available_copies = 1 means
	// this claim takes the last copy.
	if d.claimCopyStmt, err = d.db.Prepare(`
        UPDATE books
        SET available_copies = available_copies - 1,
            status = CASE WHEN available_copies = 1 THEN 'borrowed' ELSE status END
        WHERE id = ? AND available_copies > 0 AND status <> 'maintenance'`); err != nil {
		return err
	}
	if d.releaseCopyStmt, err = d.db.Prepare(`
        UPDATE books
        SET available_copies = MIN(copies, available_copies + 1),
            status = CASE WHEN status = 'borrowed' THEN 'available' ELSE status END
        WHERE id = ?`); err != nil {
		return err
	}
	if d.insertTxStmt, err = d.db.Prepare(`
        INSERT INTO transactions(id, member_id, book_id, book_title, type, transaction_date,
            due_date, returned_date, status, price, processed_by)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// NewID returns a fresh record id.
func NewID() string { return uuid.NewString() }

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isCheckViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintCheck
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// matchClause appends a case-insensitive substring match over cols to where.
func matchClause(where []string, args []any, search string, cols ...string) ([]string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return where, args
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("instr(lower(%s), lower(?)) > 0", c)
		args = append(args, search)
	}
	return append(where, "("+strings.Join(parts, " OR ")+")"), args
}

func whereSQL(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

// ---------------------------------------------------------------------------
// Dashboard counters
// ---------------------------------------------------------------------------

// Stats returns the inventory and circulation counters. Overdue counts use
// the stored status, so callers run the overdue sweep first.
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(copies),0), COALESCE(SUM(available_copies),0) FROM books`).
		Scan(&s.TotalBooks, &s.AvailableBooks)
	if err != nil {
		return Stats{}, Transport("stats books", err)
	}
	s.BorrowedBooks = s.TotalBooks - s.AvailableBooks
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`).Scan(&s.TotalMembers); err != nil {
		return Stats{}, Transport("stats members", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE status='overdue'`).Scan(&s.OverdueBooks); err != nil {
		return Stats{}, Transport("stats overdue", err)
	}
	return s, nil
}
