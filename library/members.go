package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const memberColumns = `id,full_name,email,phone,membership_type,status,joined_at`

func scanMember(row rowScanner) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.FullName, &m.Email, &m.Phone, &m.MembershipType, &m.Status, &m.JoinedAt)
	return m, err
}

func fmtNotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// AddMember inserts m. ID and JoinedAt are filled in when empty.
func (d *Database) AddMember(ctx context.Context, m Member) (Member, error) {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	m.JoinedAt = m.JoinedAt.UTC()
	_, err := d.db.ExecContext(ctx, `INSERT INTO members(`+memberColumns+`) VALUES(?,?,?,?,?,?,?)`,
		m.ID, m.FullName, m.Email, m.Phone, m.MembershipType, m.Status, m.JoinedAt)
	if isUniqueViolation(err) {
		return Member{}, Validation("member %s already exists", m.ID)
	}
	if err != nil {
		return Member{}, Transport("add member", err)
	}
	return m, nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id string) (Member, error) {
	m, err := scanMember(d.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmtNotFound("member", id)
	}
	if err != nil {
		return Member{}, Transport("get member", err)
	}
	return m, nil
}

// ListMembers returns members whose name, email or phone contains search.
func (d *Database) ListMembers(ctx context.Context, search string) ([]Member, error) {
	where, args := matchClause(nil, nil, search, "full_name", "email", "phone")
	rows, err := d.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members`+whereSQL(where)+` ORDER BY full_name COLLATE NOCASE, id`, args...)
	if err != nil {
		return nil, Transport("list members", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, Transport("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Transport("list members", err)
	}
	return members, nil
}

// UpdateMember replaces every field of the member except JoinedAt.
func (d *Database) UpdateMember(ctx context.Context, m Member) (Member, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE members SET full_name=?, email=?, phone=?, membership_type=?, status=? WHERE id=?`,
		m.FullName, m.Email, m.Phone, m.MembershipType, m.Status, m.ID)
	if err != nil {
		return Member{}, Transport("update member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Member{}, fmtNotFound("member", m.ID)
	}
	return d.GetMember(ctx, m.ID)
}

// DeleteMember removes a member with no open loans. Blacklist and
// transaction history stay behind.
func (d *Database) DeleteMember(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Transport("delete member", err)
	}
	defer tx.Rollback()

	var open bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE member_id=? AND type='borrow' AND returned_date IS NULL)`, id).Scan(&open); err != nil {
		return Transport("delete member", err)
	}
	if open {
		return Validation("member has books on loan")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id=?`, id)
	if err != nil {
		return Transport("delete member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmtNotFound("member", id)
	}
	if err := tx.Commit(); err != nil {
		return Transport("delete member", err)
	}
	return nil
}
