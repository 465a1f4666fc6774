package library

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const transactionSelect = `
    SELECT t.id, t.member_id, COALESCE(m.full_name, ''), t.book_id, t.book_title, t.type,
           t.transaction_date, t.due_date, t.returned_date, t.status, t.price, t.processed_by
    FROM transactions t
    LEFT JOIN members m ON m.id = t.member_id`

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t        Transaction
		due, ret sql.NullTime
		price    sql.NullFloat64
	)
	err := row.Scan(&t.ID, &t.MemberID, &t.MemberName, &t.BookID, &t.BookTitle, &t.Type,
		&t.TransactionDate, &due, &ret, &t.Status, &price, &t.ProcessedBy)
	if err != nil {
		return Transaction{}, err
	}
	t.TransactionDate = t.TransactionDate.UTC()
	t.DueDate = timePtr(due)
	t.ReturnedDate = timePtr(ret)
	t.Price = floatPtr(price)
	return t, nil
}

// InsertTransaction records t as given. Creation order is kept by the
// table's sequence column.
func (d *Database) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	t.TransactionDate = t.TransactionDate.UTC()
	_, err := d.insertTxStmt.ExecContext(ctx, t.ID, t.MemberID, t.BookID, t.BookTitle, t.Type,
		t.TransactionDate, nullTime(t.DueDate), nullTime(t.ReturnedDate), t.Status, nullFloat(t.Price), t.ProcessedBy)
	if isCheckViolation(err) {
		return Transaction{}, Validation("invalid transaction record")
	}
	if err != nil {
		return Transaction{}, Transport("insert transaction", err)
	}
	return t, nil
}

// GetTransaction fetches a single transaction.
func (d *Database) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	t, err := scanTransaction(d.db.QueryRowContext(ctx, transactionSelect+` WHERE t.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, fmtNotFound("transaction", id)
	}
	if err != nil {
		return Transaction{}, Transport("get transaction", err)
	}
	return t, nil
}

// CloseTransaction marks an open loan returned at returnedAt. The update is
// conditional on the loan still being open, so of two concurrent returns
// only one succeeds; the other gets ErrAlreadyReturned.
func (d *Database) CloseTransaction(ctx context.Context, id string, returnedAt time.Time) (Transaction, error) {
	res, err := d.db.ExecContext(ctx, `
        UPDATE transactions SET type='return', status='completed', returned_date=?
        WHERE id=? AND type='borrow' AND returned_date IS NULL`, returnedAt.UTC(), id)
	if err != nil {
		return Transaction{}, Transport("close transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Transaction{}, Transport("close transaction", err)
	}
	if n == 0 {
		if _, err := d.GetTransaction(ctx, id); err != nil {
			return Transaction{}, err
		}
		return Transaction{}, ErrAlreadyReturned
	}
	return d.GetTransaction(ctx, id)
}

// ReopenTransaction undoes CloseTransaction, restoring prev's status.
func (d *Database) ReopenTransaction(ctx context.Context, prev Transaction) error {
	res, err := d.db.ExecContext(ctx, `UPDATE transactions SET type='borrow', status=?, returned_date=NULL WHERE id=?`,
		prev.Status, prev.ID)
	if err != nil {
		return Transport("reopen transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmtNotFound("transaction", prev.ID)
	}
	return nil
}

// MarkOverdue moves every open loan whose due date is before now to
// overdue and reports how many changed. Rows already overdue are not
// touched, so a second call with the same now changes nothing.
func (d *Database) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, `
        UPDATE transactions SET status='overdue'
        WHERE status='active' AND type='borrow' AND returned_date IS NULL
          AND due_date IS NOT NULL AND due_date < ?`, now.UTC())
	if err != nil {
		return 0, Transport("mark overdue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, Transport("mark overdue", err)
	}
	return int(n), nil
}

// ListTransactions returns matching transactions newest first. Search
// matches the book title or the member name.
func (d *Database) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "t.type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "t.status=?")
		args = append(args, f.Status)
	}
	if f.MemberID != "" {
		where = append(where, "t.member_id=?")
		args = append(args, f.MemberID)
	}
	where, args = matchClause(where, args, f.Search, "t.book_title", "COALESCE(m.full_name, '')")

	rows, err := d.db.QueryContext(ctx, transactionSelect+whereSQL(where)+` ORDER BY t.seq DESC`, args...)
	if err != nil {
		return nil, Transport("list transactions", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, Transport("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Transport("list transactions", err)
	}
	return out, nil
}
