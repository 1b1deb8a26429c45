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

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Database is the SQLite-backed Repository and UserStore.
type Database struct {
	db    *sqlx.DB
	clock Clock
	log   zerolog.Logger

	addBookStmt *sqlx.Stmt
}

var (
	_ Repository = (*Database)(nil)
	_ UserStore  = (*Database)(nil)
)

// DefaultBusyTimeout is how long a connection waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	return NewDatabaseWithTimeout(dbPath, DefaultBusyTimeout, opts...)
}

// NewDatabaseWithTimeout is NewDatabase with an explicit busy timeout.
func NewDatabaseWithTimeout(dbPath string, busyTimeout time.Duration, opts ...Option) (*Database, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, invalid("db_path", "required")
	}
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Writers take the lock at BEGIN so check-then-write cannot interleave.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	o := buildOptions(opts)
	database := &Database{db: db, clock: o.clock, log: o.logger}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL lets readers proceed while a borrow or return holds the write lock.
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
		`CREATE TABLE IF NOT EXISTS users (
            username TEXT PRIMARY KEY COLLATE NOCASE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            total_copies INTEGER NOT NULL CHECK (total_copies > 0),
            available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
            is_deleted INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL COLLATE NOCASE REFERENCES users(username) ON DELETE RESTRICT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE RESTRICT,
            loan_date TEXT NOT NULL,
            return_date TEXT
        );`,
		// At most one active loan per (user, book).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_unique
            ON loans(username, book_id) WHERE return_date IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans(username);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id);`,
		`CREATE INDEX IF NOT EXISTS idx_books_deleted ON books(is_deleted);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO books(title,author,total_copies,available_copies,is_deleted) VALUES(?,?,?,?,0)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error normalization
// ---------------------------------------------------------------------------

// isConflict reports errors that stand for an expected business race: a
// constraint the schema enforces, or a lock we could not obtain in time.
func isConflict(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
	}
	return false
}

// fail turns a driver error into the caller-facing result: nil for conflicts
// (an ordinary negative outcome), ErrStorage otherwise.
func (d *Database) fail(op string, err error) error {
	if isConflict(err) {
		d.log.Debug().Err(err).Str("op", op).Msg("rejected by constraint")
		return nil
	}
	d.log.Error().Err(err).Str("op", op).Msg("storage failure")
	return storageErr(op, err)
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id,title,author,total_copies,available_copies,is_deleted`

func (d *Database) AddBook(ctx context.Context, title, author string, copies int) (*Book, error) {
	if err := validateBookFields(title, author, copies); err != nil {
		return nil, err
	}
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	res, err := d.addBookStmt.ExecContext(ctx, title, author, copies, copies)
	if err != nil {
		return nil, storageErr("add book", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("add book", err)
	}
	return NewBook(id, title, author, copies, copies)
}

// AddCopies grows a live book's stock by count.
func (d *Database) AddCopies(ctx context.Context, bookID int64, count int) (*Book, error) {
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, invalid("count", "must be > 0")
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, d.fail("add copies", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE books SET total_copies = total_copies + ?, available_copies = available_copies + ?
        WHERE id = ? AND is_deleted = 0`, count, count, bookID)
	if err != nil {
		return nil, d.fail("add copies", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, nil
	}
	var b Book
	if err := tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = ?`, bookID); err != nil {
		return nil, d.fail("add copies", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, d.fail("add copies", err)
	}
	return &b, nil
}

// RemoveBook soft-deletes a book that nobody currently holds.
func (d *Database) RemoveBook(ctx context.Context, bookID int64) (bool, error) {
	if err := validateBookID(bookID); err != nil {
		return false, err
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, d.fail("remove book", err)
	}
	defer tx.Rollback()

	var active bool
	if err := tx.GetContext(ctx, &active, `SELECT EXISTS(SELECT 1 FROM loans WHERE book_id = ? AND return_date IS NULL)`, bookID); err != nil {
		return false, d.fail("remove book", err)
	}
	if active {
		d.log.Debug().Int64("book", bookID).Msg("remove: book has active loans")
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE books SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, bookID)
	if err != nil {
		return false, d.fail("remove book", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, d.fail("remove book", err)
	}
	d.log.Info().Int64("book", bookID).Msg("book removed")
	return true, nil
}

// ListBooks returns every live book ordered by id.
func (d *Database) ListBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	if err := d.db.SelectContext(ctx, &books, `SELECT `+bookColumns+` FROM books WHERE is_deleted = 0 ORDER BY id`); err != nil {
		return nil, storageErr("list books", err)
	}
	return books, nil
}

// SearchBooks matches query as a case-insensitive substring of title or author.
func (d *Database) SearchBooks(ctx context.Context, query string) ([]*Book, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return d.ListBooks(ctx)
	}
	like := "%" + escapeLike(q) + "%"
	books := []*Book{}
	err := d.db.SelectContext(ctx, &books, `
        SELECT `+bookColumns+`
        FROM books
        WHERE is_deleted = 0 AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(author) LIKE ? ESCAPE '\')
        ORDER BY id`, like, like)
	if err != nil {
		return nil, storageErr("search books", err)
	}
	return books, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindBook returns the live book with id bookID, or nil.
func (d *Database) FindBook(ctx context.Context, bookID int64) (*Book, error) {
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	var b Book
	err := d.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = ? AND is_deleted = 0`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find book", err)
	}
	return &b, nil
}

// HasAnyBooks reports whether at least one live book exists.
func (d *Database) HasAnyBooks(ctx context.Context) (bool, error) {
	var exists bool
	if err := d.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE is_deleted = 0)`); err != nil {
		return false, storageErr("has any books", err)
	}
	return exists, nil
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// BorrowBook lends one copy of bookID to username in a single transaction.
// It returns nil when the book is missing, deleted, out of copies, or already
// on an active loan to this user.
func (d *Database) BorrowBook(ctx context.Context, username string, bookID int64) (*Loan, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	u := strings.TrimSpace(username)
	today := Date(d.clock())

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, d.fail("borrow", err)
	}
	defer tx.Rollback()

	var available int
	err = tx.GetContext(ctx, &available, `SELECT available_copies FROM books WHERE id = ? AND is_deleted = 0`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		d.log.Debug().Str("user", u).Int64("book", bookID).Msg("borrow: no such book")
		return nil, nil
	}
	if err != nil {
		return nil, d.fail("borrow", err)
	}
	if available <= 0 {
		d.log.Debug().Str("user", u).Int64("book", bookID).Msg("borrow: no copies available")
		return nil, nil
	}

	// The partial unique index rejects a second active loan for the pair.
	res, err := tx.ExecContext(ctx, `INSERT INTO loans(username,book_id,loan_date,return_date) VALUES(?,?,?,NULL)`,
		u, bookID, today.Format(DateLayout))
	if err != nil {
		return nil, d.fail("borrow", err)
	}
	loanID, err := res.LastInsertId()
	if err != nil {
		return nil, d.fail("borrow", err)
	}

	res, err = tx.ExecContext(ctx, `UPDATE books SET available_copies = available_copies - 1 WHERE id = ? AND available_copies > 0`, bookID)
	if err != nil {
		return nil, d.fail("borrow", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, d.fail("borrow", err)
	}
	d.log.Info().Str("user", u).Int64("book", bookID).Int64("loan", loanID).Msg("book borrowed")
	return NewLoan(loanID, u, bookID, today, nil)
}

// ReturnBook closes the active loan for (username, bookID) and puts the copy
// back on the shelf. It reports false when there is no active loan.
func (d *Database) ReturnBook(ctx context.Context, username string, bookID int64) (bool, error) {
	if err := validateUsername(username); err != nil {
		return false, err
	}
	if err := validateBookID(bookID); err != nil {
		return false, err
	}
	u := strings.TrimSpace(username)
	today := Date(d.clock())

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, d.fail("return", err)
	}
	defer tx.Rollback()

	var loanID int64
	err = tx.GetContext(ctx, &loanID, `SELECT id FROM loans WHERE username = ? AND book_id = ? AND return_date IS NULL`, u, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		d.log.Debug().Str("user", u).Int64("book", bookID).Msg("return: no active loan")
		return false, nil
	}
	if err != nil {
		return false, d.fail("return", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE loans SET return_date = ? WHERE id = ? AND return_date IS NULL`,
		today.Format(DateLayout), loanID)
	if err != nil {
		return false, d.fail("return", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE books
        SET available_copies = CASE WHEN available_copies < total_copies THEN available_copies + 1 ELSE available_copies END
        WHERE id = ?`, bookID); err != nil {
		return false, d.fail("return", err)
	}

	if err := tx.Commit(); err != nil {
		return false, d.fail("return", err)
	}
	d.log.Info().Str("user", u).Int64("book", bookID).Int64("loan", loanID).Msg("book returned")
	return true, nil
}

// ---------------------------------------------------------------------------
// Loan queries
// ---------------------------------------------------------------------------

type loanRow struct {
	ID         int64          `db:"id"`
	Username   string         `db:"username"`
	BookID     int64          `db:"book_id"`
	LoanDate   string         `db:"loan_date"`
	ReturnDate sql.NullString `db:"return_date"`
}

func (r loanRow) loan() (*Loan, error) {
	loanDate, err := parseDate(r.LoanDate)
	if err != nil {
		return nil, err
	}
	var returned *time.Time
	if r.ReturnDate.Valid {
		t, err := parseDate(r.ReturnDate.String)
		if err != nil {
			return nil, err
		}
		returned = &t
	}
	return NewLoan(r.ID, r.Username, r.BookID, loanDate, returned)
}

const loanColumns = `id,username,book_id,loan_date,return_date`

func (d *Database) selectLoans(ctx context.Context, op, query string, args ...any) ([]*Loan, error) {
	var rows []loanRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr(op, err)
	}
	loans := make([]*Loan, 0, len(rows))
	for _, r := range rows {
		l, err := r.loan()
		if err != nil {
			return nil, storageErr(op, err)
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// ListLoansForUser returns the user's loan history, oldest first.
func (d *Database) ListLoansForUser(ctx context.Context, username string) ([]*Loan, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return d.selectLoans(ctx, "list user loans",
		`SELECT `+loanColumns+` FROM loans WHERE username = ? ORDER BY id`, strings.TrimSpace(username))
}

func (d *Database) ListAllLoans(ctx context.Context) ([]*Loan, error) {
	return d.selectLoans(ctx, "list loans", `SELECT `+loanColumns+` FROM loans ORDER BY id`)
}

func (d *Database) ListActiveLoans(ctx context.Context) ([]*Loan, error) {
	return d.selectLoans(ctx, "list active loans",
		`SELECT `+loanColumns+` FROM loans WHERE return_date IS NULL ORDER BY id`)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (d *Database) AddUser(ctx context.Context, u *User) error {
	if u == nil {
		return invalid("user", "required")
	}
	if err := validateUsername(u.Username); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO users(username,password_hash,role) VALUES(?,?,?)`,
		strings.TrimSpace(u.Username), u.PasswordHash, string(u.Role))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
		}
		return storageErr("add user", err)
	}
	return nil
}

func (d *Database) FindUser(ctx context.Context, username string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, nil
	}
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT username,password_hash,role FROM users WHERE username = ?`, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find user", err)
	}
	return &u, nil
}

// DeleteUser removes an account. Users with any loan history are kept so the
// history stays intact; for them it reports false.
func (d *Database) DeleteUser(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, nil
	}
	res, err := d.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, strings.TrimSpace(username))
	if err != nil {
		return false, d.fail("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete user", err)
	}
	return n == 1, nil
}

func (d *Database) ListUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	if err := d.db.SelectContext(ctx, &users, `SELECT username,password_hash,role FROM users ORDER BY username`); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

func (d *Database) UpdatePasswordHash(ctx context.Context, username, hash string) (bool, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(hash) == "" {
		return false, nil
	}
	res, err := d.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE username = ?`, hash, strings.TrimSpace(username))
	if err != nil {
		return false, storageErr("update password", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("update password", err)
	}
	return n == 1, nil
}

func (d *Database) HasAnyUsers(ctx context.Context) (bool, error) {
	var exists bool
	if err := d.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users)`); err != nil {
		return false, storageErr("has any users", err)
	}
	return exists, nil
}
