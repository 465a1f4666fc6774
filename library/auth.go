package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"librarydesk/access"
)

// MinPasswordLength is the shortest password SignUp accepts.
const MinPasswordLength = 6

// AuthSession is the result of a successful sign-in: an opaque token, the
// profile it belongs to and when it stops being valid.
type AuthSession struct {
	Token     string
	Profile   Profile
	ExpiresAt time.Time
}

// Authenticator is the email/password account backend. Passwords are stored
// as bcrypt hashes; session tokens are stored as SHA-256 digests.
type Authenticator struct {
	db   *Database
	cost int
	ttl  time.Duration
	now  func() time.Time
}

// NewAuthenticator builds an authenticator on db. A cost <= 0 falls back to
// bcrypt.DefaultCost; ttl is the lifetime of issued sessions.
func NewAuthenticator(db *Database, cost int, ttl time.Duration) *Authenticator {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{db: db, cost: cost, ttl: ttl, now: time.Now}
}

// SignIn verifies the email/password pair and opens a session. Unknown
// emails and wrong passwords both yield ErrInvalidCredentials.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (AuthSession, error) {
	p, err := a.db.ProfileByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return AuthSession{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthSession{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return AuthSession{}, ErrInvalidCredentials
	}
	return a.openSession(ctx, p)
}

// SignUp creates an account carrying profile's full name and role, then
// opens a session for it.
func (a *Authenticator) SignUp(ctx context.Context, email, password string, profile Profile) (AuthSession, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return AuthSession{}, Validation("a valid email is required")
	}
	if len(password) < MinPasswordLength {
		return AuthSession{}, fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinPasswordLength)
	}
	role, err := access.ParseRole(string(profile.Role))
	if err != nil {
		return AuthSession{}, Validation("%v", err)
	}
	name := strings.TrimSpace(profile.FullName)
	if name == "" {
		name = "User"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("hash password: %w", err)
	}
	p := Profile{
		ID:           NewID(),
		Email:        email,
		FullName:     name,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}
	if err := a.db.CreateProfile(ctx, p); err != nil {
		return AuthSession{}, err
	}
	return a.openSession(ctx, p)
}

// SignOut revokes the session behind token.
func (a *Authenticator) SignOut(ctx context.Context, token string) error {
	return a.db.DeleteAuthSession(ctx, hashToken(token))
}

// ResetPassword replaces the password of the account with email.
func (a *Authenticator) ResetPassword(ctx context.Context, email, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.db.SetPasswordHash(ctx, normalizeEmail(email), string(hash))
}

func (a *Authenticator) openSession(ctx context.Context, p Profile) (AuthSession, error) {
	token := uuid.NewString()
	now := a.now().UTC()
	s := AuthSession{Token: token, Profile: p, ExpiresAt: now.Add(a.ttl)}
	if _, err := a.db.PurgeExpiredAuthSessions(ctx, now); err != nil {
		return AuthSession{}, err
	}
	if err := a.db.CreateAuthSession(ctx, hashToken(token), p.ID, now, s.ExpiresAt); err != nil {
		return AuthSession{}, err
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// Profile and session rows
// ---------------------------------------------------------------------------

// CreateProfile inserts p. A duplicate email yields ErrEmailInUse.
func (d *Database) CreateProfile(ctx context.Context, p Profile) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO profiles(id, email, full_name, role, password_hash, created_at) VALUES(?,?,?,?,?,?)`,
		p.ID, p.Email, p.FullName, p.Role, p.PasswordHash, p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrEmailInUse
	}
	if err != nil {
		return Transport("create profile", err)
	}
	return nil
}

// ProfileByEmail fetches the account with email, matched case-insensitively.
func (d *Database) ProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var p Profile
	err := d.db.QueryRowContext(ctx, `SELECT id, email, full_name, role, password_hash, created_at FROM profiles WHERE email=?`, email).
		Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmtNotFound("profile", email)
	}
	if err != nil {
		return Profile{}, Transport("get profile", err)
	}
	return p, nil
}

// SetPasswordHash replaces the stored hash for email.
func (d *Database) SetPasswordHash(ctx context.Context, email, hash string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE profiles SET password_hash=? WHERE email=?`, hash, email)
	if err != nil {
		return Transport("set password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmtNotFound("profile", email)
	}
	return nil
}

// CreateAuthSession stores a session digest.
func (d *Database) CreateAuthSession(ctx context.Context, tokenHash, profileID string, createdAt, expiresAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO auth_sessions(token_hash, profile_id, created_at, expires_at) VALUES(?,?,?,?)`,
		tokenHash, profileID, createdAt.UTC(), expiresAt.UTC())
	if err != nil {
		return Transport("create session", err)
	}
	return nil
}

// DeleteAuthSession removes a session digest. Deleting an unknown session
// is not an error.
func (d *Database) DeleteAuthSession(ctx context.Context, tokenHash string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token_hash=?`, tokenHash); err != nil {
		return Transport("delete session", err)
	}
	return nil
}

// PurgeExpiredAuthSessions drops session digests that expired at or before
// now and reports how many went.
func (d *Database) PurgeExpiredAuthSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, Transport("purge sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
