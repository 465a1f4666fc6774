// Package blacklist keeps the record of members barred from borrowing.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"librarydesk/access"
	"librarydesk/library"
	"librarydesk/notify"
)

// Store is the persistence the ledger needs.
type Store interface {
	GetMember(ctx context.Context, id string) (library.Member, error)
	InsertBlacklistEntry(ctx context.Context, e library.BlacklistEntry) (library.BlacklistEntry, error)
	ToggleBlacklistEntry(ctx context.Context, id string) (library.BlacklistEntry, error)
	HasActiveBlacklistEntry(ctx context.Context, memberID string) (bool, error)
	ListBlacklistEntries(ctx context.Context, search string) ([]library.BlacklistEntry, error)
}

// Ledger records blacklist entries on behalf of the current actor.
type Ledger struct {
	store    Store
	identity access.Resolver
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(lg *Ledger) {
		if n != nil {
			lg.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New returns a ledger over store that reads identity from identity.
func New(store Store, identity access.Resolver, opts ...Option) *Ledger {
	lg := &Ledger{
		store:    store,
		identity: identity,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(lg)
	}
	return lg
}

// AddEntry bars a member. The entry is attributed to the current actor.
func (lg *Ledger) AddEntry(ctx context.Context, memberID, reason string) (library.BlacklistEntry, error) {
	actor := lg.identity.CurrentActor()
	if err := access.Require(actor, access.DeleteMember); err != nil {
		return library.BlacklistEntry{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return library.BlacklistEntry{}, library.Validation("a reason is required")
	}
	member, err := lg.store.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return library.BlacklistEntry{}, library.Validation("unknown member %s", memberID)
		}
		return library.BlacklistEntry{}, err
	}

	e, err := lg.store.InsertBlacklistEntry(ctx, library.BlacklistEntry{
		MemberID:      member.ID,
		Reason:        reason,
		BlacklistedBy: actor.ID,
		BlacklistedAt: lg.now(),
		IsActive:      true,
	})
	if err != nil {
		lg.notifier.Notify(notify.Error, "Could not blacklist member")
		return library.BlacklistEntry{}, err
	}
	e.MemberName = member.FullName

	lg.logger.Info("member blacklisted", "entry", e.ID, "member", member.ID, "by", actor.ID)
	lg.notifier.Notify(notify.Success, fmt.Sprintf("%s added to blacklist", member.FullName))
	return e, nil
}

// ToggleActive flips an entry between active and inactive.
func (lg *Ledger) ToggleActive(ctx context.Context, entryID string) (library.BlacklistEntry, error) {
	actor := lg.identity.CurrentActor()
	if err := access.Require(actor, access.DeleteMember); err != nil {
		return library.BlacklistEntry{}, err
	}
	e, err := lg.store.ToggleBlacklistEntry(ctx, entryID)
	if err != nil {
		return library.BlacklistEntry{}, err
	}
	state := "deactivated"
	if e.IsActive {
		state = "activated"
	}
	lg.logger.Info("blacklist entry toggled", "entry", e.ID, "active", e.IsActive, "by", actor.ID)
	lg.notifier.Notify(notify.Success, "Blacklist entry "+state)
	return e, nil
}

// IsBlacklisted reports whether the member has any active entry.
func (lg *Ledger) IsBlacklisted(ctx context.Context, memberID string) (bool, error) {
	return lg.store.HasActiveBlacklistEntry(ctx, memberID)
}

// ListEntries returns entries matching search, newest first.
func (lg *Ledger) ListEntries(ctx context.Context, search string) ([]library.BlacklistEntry, error) {
	if err := access.Require(lg.identity.CurrentActor(), access.ViewMembers); err != nil {
		return nil, err
	}
	return lg.store.ListBlacklistEntries(ctx, strings.TrimSpace(search))
}
