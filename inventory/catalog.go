// Package inventory manages the book and member catalogs and the dashboard
// counters built from them.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"librarydesk/access"
	"librarydesk/library"
	"librarydesk/notify"
)

// Store is the persistence the catalog needs.
type Store interface {
	AddBook(ctx context.Context, b library.Book) (library.Book, error)
	GetBook(ctx context.Context, id string) (library.Book, error)
	ListBooks(ctx context.Context, search string) ([]library.Book, error)
	UpdateBook(ctx context.Context, b library.Book) (library.Book, error)
	DeleteBook(ctx context.Context, id string) error

	AddMember(ctx context.Context, m library.Member) (library.Member, error)
	GetMember(ctx context.Context, id string) (library.Member, error)
	ListMembers(ctx context.Context, search string) ([]library.Member, error)
	UpdateMember(ctx context.Context, m library.Member) (library.Member, error)
	DeleteMember(ctx context.Context, id string) error

	MarkOverdue(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (library.Stats, error)
}

// Catalog gates every catalog operation on the current actor's permissions.
type Catalog struct {
	store    Store
	identity access.Resolver
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *Catalog) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func New(store Store, identity access.Resolver, opts ...Option) *Catalog {
	c := &Catalog{
		store:    store,
		identity: identity,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) require(p access.Permission) (*access.Actor, error) {
	actor := c.identity.CurrentActor()
	if err := access.Require(actor, p); err != nil {
		return nil, err
	}
	return actor, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook adds a title with every copy on the shelf.
func (c *Catalog) AddBook(ctx context.Context, b library.Book) (library.Book, error) {
	actor, err := c.require(access.AddBook)
	if err != nil {
		return library.Book{}, err
	}
	b = trimBook(b)
	if b.Status == "" {
		b.Status = library.BookAvailable
	}
	if err := validateBook(b); err != nil {
		return library.Book{}, err
	}
	// Every copy starts on the shelf.
	if b.Status == library.BookBorrowed {
		return library.Book{}, library.Validation("a new book cannot start as %s", b.Status)
	}
	b.ID = ""
	b.AvailableCopies = b.Copies
	b.CreatedAt = c.now()

	added, err := c.store.AddBook(ctx, b)
	if err != nil {
		c.notifier.Notify(notify.Error, "Failed to add book")
		return library.Book{}, err
	}
	c.logger.Info("book added", "book", added.ID, "copies", added.Copies, "by", actor.ID)
	c.notifier.Notify(notify.Success, fmt.Sprintf("%q added", added.Title))
	return added, nil
}

// UpdateBook edits a title. Changing Copies moves the available count by
// the same amount; the AvailableCopies on b is ignored.
func (c *Catalog) UpdateBook(ctx context.Context, b library.Book) (library.Book, error) {
	actor, err := c.require(access.EditBook)
	if err != nil {
		return library.Book{}, err
	}
	b = trimBook(b)
	if err := validateBook(b); err != nil {
		return library.Book{}, err
	}
	updated, err := c.store.UpdateBook(ctx, b)
	if err != nil {
		return library.Book{}, err
	}
	c.logger.Info("book updated", "book", updated.ID, "copies", updated.Copies, "available", updated.AvailableCopies, "by", actor.ID)
	c.notifier.Notify(notify.Success, fmt.Sprintf("%q updated", updated.Title))
	return updated, nil
}

// DeleteBook removes a title with no copies on loan.
func (c *Catalog) DeleteBook(ctx context.Context, id string) error {
	actor, err := c.require(access.DeleteBook)
	if err != nil {
		return err
	}
	if err := c.store.DeleteBook(ctx, id); err != nil {
		return err
	}
	c.logger.Info("book deleted", "book", id, "by", actor.ID)
	c.notifier.Notify(notify.Success, "Book deleted")
	return nil
}

func (c *Catalog) GetBook(ctx context.Context, id string) (library.Book, error) {
	if _, err := c.require(access.ViewBooks); err != nil {
		return library.Book{}, err
	}
	return c.store.GetBook(ctx, id)
}

// ListBooks matches search against title, author, ISBN and category,
// ignoring case.
func (c *Catalog) ListBooks(ctx context.Context, search string) ([]library.Book, error) {
	if _, err := c.require(access.ViewBooks); err != nil {
		return nil, err
	}
	return c.store.ListBooks(ctx, strings.TrimSpace(search))
}

func trimBook(b library.Book) library.Book {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	b.Category = strings.TrimSpace(b.Category)
	b.Location = strings.TrimSpace(b.Location)
	return b
}

func validateBook(b library.Book) error {
	switch {
	case b.Title == "":
		return library.Validation("title is required")
	case b.Author == "":
		return library.Validation("author is required")
	case b.Copies < 1:
		return library.Validation("copies must be at least 1")
	case !b.Status.Valid():
		return library.Validation("unknown book status %q", b.Status)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// AddMember registers a patron. Empty membership type and status default
// to student and active.
func (c *Catalog) AddMember(ctx context.Context, m library.Member) (library.Member, error) {
	actor, err := c.require(access.AddMember)
	if err != nil {
		return library.Member{}, err
	}
	m = trimMember(m)
	if m.MembershipType == "" {
		m.MembershipType = library.MembershipStudent
	}
	if m.Status == "" {
		m.Status = library.MemberActive
	}
	if err := validateMember(m); err != nil {
		return library.Member{}, err
	}
	m.ID = ""
	m.JoinedAt = c.now()

	added, err := c.store.AddMember(ctx, m)
	if err != nil {
		c.notifier.Notify(notify.Error, "Failed to add member")
		return library.Member{}, err
	}
	c.logger.Info("member added", "member", added.ID, "by", actor.ID)
	c.notifier.Notify(notify.Success, fmt.Sprintf("%s added", added.FullName))
	return added, nil
}

func (c *Catalog) UpdateMember(ctx context.Context, m library.Member) (library.Member, error) {
	actor, err := c.require(access.EditMember)
	if err != nil {
		return library.Member{}, err
	}
	m = trimMember(m)
	if err := validateMember(m); err != nil {
		return library.Member{}, err
	}
	updated, err := c.store.UpdateMember(ctx, m)
	if err != nil {
		return library.Member{}, err
	}
	c.logger.Info("member updated", "member", updated.ID, "status", updated.Status, "by", actor.ID)
	c.notifier.Notify(notify.Success, fmt.Sprintf("%s updated", updated.FullName))
	return updated, nil
}

// DeleteMember removes a patron with no open loans. Their transactions and
// blacklist entries are kept.
func (c *Catalog) DeleteMember(ctx context.Context, id string) error {
	actor, err := c.require(access.DeleteMember)
	if err != nil {
		return err
	}
	if err := c.store.DeleteMember(ctx, id); err != nil {
		return err
	}
	c.logger.Info("member deleted", "member", id, "by", actor.ID)
	c.notifier.Notify(notify.Success, "Member deleted")
	return nil
}

func (c *Catalog) GetMember(ctx context.Context, id string) (library.Member, error) {
	if _, err := c.require(access.ViewMembers); err != nil {
		return library.Member{}, err
	}
	return c.store.GetMember(ctx, id)
}

func (c *Catalog) ListMembers(ctx context.Context, search string) ([]library.Member, error) {
	if _, err := c.require(access.ViewMembers); err != nil {
		return nil, err
	}
	return c.store.ListMembers(ctx, strings.TrimSpace(search))
}

func trimMember(m library.Member) library.Member {
	m.FullName = strings.TrimSpace(m.FullName)
	m.Email = strings.TrimSpace(m.Email)
	m.Phone = strings.TrimSpace(m.Phone)
	return m
}

func validateMember(m library.Member) error {
	switch {
	case m.FullName == "":
		return library.Validation("full name is required")
	case !strings.Contains(m.Email, "@"):
		return library.Validation("invalid email %q", m.Email)
	case !m.MembershipType.Valid():
		return library.Validation("unknown membership type %q", m.MembershipType)
	}
	switch m.Status {
	case library.MemberActive, library.MemberInactive, library.MemberSuspended:
		return nil
	}
	return library.Validation("unknown member status %q", m.Status)
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

// Stats returns the dashboard counters with overdue loans refreshed first.
func (c *Catalog) Stats(ctx context.Context) (library.Stats, error) {
	if _, err := c.require(access.ViewReports); err != nil {
		return library.Stats{}, err
	}
	if _, err := c.store.MarkOverdue(ctx, c.now()); err != nil {
		c.logger.Warn("overdue sweep before stats failed", "error", err)
	}
	return c.store.Stats(ctx)
}
