package library

import (
	"context"
	"database/sql"
	"errors"
)

const blacklistSelect = `
    SELECT b.id, b.member_id, COALESCE(m.full_name, ''), b.reason, b.blacklisted_by, b.blacklisted_at, b.is_active
    FROM member_blacklist b
    LEFT JOIN members m ON m.id = b.member_id`

func scanBlacklistEntry(row rowScanner) (BlacklistEntry, error) {
	var e BlacklistEntry
	err := row.Scan(&e.ID, &e.MemberID, &e.MemberName, &e.Reason, &e.BlacklistedBy, &e.BlacklistedAt, &e.IsActive)
	e.BlacklistedAt = e.BlacklistedAt.UTC()
	return e, err
}

// InsertBlacklistEntry stores e. Several entries per member are allowed.
func (d *Database) InsertBlacklistEntry(ctx context.Context, e BlacklistEntry) (BlacklistEntry, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	e.BlacklistedAt = e.BlacklistedAt.UTC()
	_, err := d.db.ExecContext(ctx, `INSERT INTO member_blacklist(id, member_id, reason, blacklisted_by, blacklisted_at, is_active) VALUES(?,?,?,?,?,?)`,
		e.ID, e.MemberID, e.Reason, e.BlacklistedBy, e.BlacklistedAt, e.IsActive)
	if err != nil {
		return BlacklistEntry{}, Transport("insert blacklist entry", err)
	}
	return e, nil
}

// GetBlacklistEntry fetches a single entry.
func (d *Database) GetBlacklistEntry(ctx context.Context, id string) (BlacklistEntry, error) {
	e, err := scanBlacklistEntry(d.db.QueryRowContext(ctx, blacklistSelect+` WHERE b.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BlacklistEntry{}, fmtNotFound("blacklist entry", id)
	}
	if err != nil {
		return BlacklistEntry{}, Transport("get blacklist entry", err)
	}
	return e, nil
}

// ToggleBlacklistEntry flips is_active in place and returns the new state.
func (d *Database) ToggleBlacklistEntry(ctx context.Context, id string) (BlacklistEntry, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE member_blacklist SET is_active = NOT is_active WHERE id=?`, id)
	if err != nil {
		return BlacklistEntry{}, Transport("toggle blacklist entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return BlacklistEntry{}, fmtNotFound("blacklist entry", id)
	}
	return d.GetBlacklistEntry(ctx, id)
}

// HasActiveBlacklistEntry reports whether any active entry exists for the member.
func (d *Database) HasActiveBlacklistEntry(ctx context.Context, memberID string) (bool, error) {
	var active bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM member_blacklist WHERE member_id=? AND is_active=1)`, memberID).Scan(&active)
	if err != nil {
		return false, Transport("check blacklist", err)
	}
	return active, nil
}

// ListBlacklistEntries returns entries whose member name or reason contains
// search, newest first.
func (d *Database) ListBlacklistEntries(ctx context.Context, search string) ([]BlacklistEntry, error) {
	where, args := matchClause(nil, nil, search, "COALESCE(m.full_name, '')", "b.reason")
	rows, err := d.db.QueryContext(ctx, blacklistSelect+whereSQL(where)+` ORDER BY b.blacklisted_at DESC, b.rowid DESC`, args...)
	if err != nil {
		return nil, Transport("list blacklist", err)
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		e, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, Transport("scan blacklist entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, Transport("list blacklist", err)
	}
	return out, nil
}
