package library

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const bookColumns = `id,title,author,isbn,category,status,copies,available_copies,location,created_at`

func scanBook(row rowScanner) (Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Category, &b.Status,
		&b.Copies, &b.AvailableCopies, &b.Location, &b.CreatedAt)
	return b, err
}

// AddBook inserts b. ID and CreatedAt are filled in when empty.
func (d *Database) AddBook(ctx context.Context, b Book) (Book, error) {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	_, err := d.db.ExecContext(ctx, `INSERT INTO books(`+bookColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Title, b.Author, b.ISBN, b.Category, b.Status, b.Copies, b.AvailableCopies, b.Location, b.CreatedAt)
	switch {
	case isCheckViolation(err):
		return Book{}, Validation("available copies must be between 0 and copies")
	case isUniqueViolation(err):
		return Book{}, Validation("book %s already exists", b.ID)
	case err != nil:
		return Book{}, Transport("add book", err)
	}
	return b, nil
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, id string) (Book, error) {
	b, err := scanBook(d.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, fmtNotFound("book", id)
	}
	if err != nil {
		return Book{}, Transport("get book", err)
	}
	return b, nil
}

// ListBooks returns books whose title, author, isbn or category contains
// search, ordered by title.
func (d *Database) ListBooks(ctx context.Context, search string) ([]Book, error) {
	where, args := matchClause(nil, nil, search, "title", "author", "isbn", "category")
	rows, err := d.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books`+whereSQL(where)+` ORDER BY title COLLATE NOCASE, id`, args...)
	if err != nil {
		return nil, Transport("list books", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, Transport("scan book", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, Transport("list books", err)
	}
	return books, nil
}

// UpdateBook replaces the descriptive fields of a book. A change of Copies
// shifts AvailableCopies by the same amount so copies on loan stay counted;
// the AvailableCopies value on b is ignored.
func (d *Database) UpdateBook(ctx context.Context, b Book) (Book, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Book{}, Transport("update book", err)
	}
	defer tx.Rollback()

	cur, err := scanBook(tx.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=?`, b.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, fmtNotFound("book", b.ID)
	}
	if err != nil {
		return Book{}, Transport("update book", err)
	}

	onLoan := cur.OnLoan()
	if b.Copies < onLoan {
		return Book{}, Validation("%d copies are on loan, cannot reduce copies to %d", onLoan, b.Copies)
	}
	b.AvailableCopies = b.Copies - onLoan
	b.CreatedAt = cur.CreatedAt
	switch {
	case b.AvailableCopies == 0 && b.Status == BookAvailable && onLoan > 0:
		b.Status = BookBorrowed
	case b.AvailableCopies > 0 && b.Status == BookBorrowed:
		b.Status = BookAvailable
	}

	_, err = tx.ExecContext(ctx, `UPDATE books SET title=?, author=?, isbn=?, category=?, status=?, copies=?, available_copies=?, location=? WHERE id=?`,
		b.Title, b.Author, b.ISBN, b.Category, b.Status, b.Copies, b.AvailableCopies, b.Location, b.ID)
	if err != nil {
		return Book{}, Transport("update book", err)
	}
	if err := tx.Commit(); err != nil {
		return Book{}, Transport("update book", err)
	}
	return b, nil
}

// DeleteBook removes a book that has no copies on loan.
func (d *Database) DeleteBook(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Transport("delete book", err)
	}
	defer tx.Rollback()

	var copies, avail int
	err = tx.QueryRowContext(ctx, `SELECT copies, available_copies FROM books WHERE id=?`, id).Scan(&copies, &avail)
	if errors.Is(err, sql.ErrNoRows) {
		return fmtNotFound("book", id)
	}
	if err != nil {
		return Transport("delete book", err)
	}
	if copies != avail {
		return Validation("book has %d copies on loan", copies-avail)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id); err != nil {
		return Transport("delete book", err)
	}
	if err := tx.Commit(); err != nil {
		return Transport("delete book", err)
	}
	return nil
}

// ClaimCopy takes one copy of a book in a single conditional update, so two
// concurrent claims on the last copy cannot both succeed. The book status
// flips to borrowed when the last copy goes out.
func (d *Database) ClaimCopy(ctx context.Context, bookID string) (Book, error) {
	res, err := d.claimCopyStmt.ExecContext(ctx, bookID)
	if err != nil {
		return Book{}, Transport("claim copy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Book{}, Transport("claim copy", err)
	}
	if n == 0 {
		// Distinguish a missing book from an exhausted one.
		if _, err := d.GetBook(ctx, bookID); err != nil {
			return Book{}, err
		}
		return Book{}, ErrBookUnavailable
	}
	return d.GetBook(ctx, bookID)
}

// ReleaseCopy puts one copy back, never exceeding the total, and marks a
// borrowed book available again.
func (d *Database) ReleaseCopy(ctx context.Context, bookID string) (Book, error) {
	res, err := d.releaseCopyStmt.ExecContext(ctx, bookID)
	if err != nil {
		return Book{}, Transport("release copy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Book{}, Transport("release copy", err)
	}
	if n == 0 {
		return Book{}, fmtNotFound("book", bookID)
	}
	return d.GetBook(ctx, bookID)
}
