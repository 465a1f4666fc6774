// Package circulation moves copies out of and back into the inventory and
// keeps the transaction log that records it.
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"librarydesk/access"
	"librarydesk/library"
	"librarydesk/notify"
)

// DefaultLoanPeriod applies when a borrow does not name a due date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Store is the persistence the engine needs.
type Store interface {
	GetMember(ctx context.Context, id string) (library.Member, error)
	ClaimCopy(ctx context.Context, bookID string) (library.Book, error)
	ReleaseCopy(ctx context.Context, bookID string) (library.Book, error)
	InsertTransaction(ctx context.Context, t library.Transaction) (library.Transaction, error)
	GetTransaction(ctx context.Context, id string) (library.Transaction, error)
	CloseTransaction(ctx context.Context, id string, returnedAt time.Time) (library.Transaction, error)
	ReopenTransaction(ctx context.Context, prev library.Transaction) error
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
	ListTransactions(ctx context.Context, f library.TransactionFilter) ([]library.Transaction, error)
}

// Eligibility answers whether a member may borrow at all.
type Eligibility interface {
	IsBlacklisted(ctx context.Context, memberID string) (bool, error)
}

// BorrowRequest describes one loan. A zero DueDate means now plus the loan
// period; a nil Price records no fee.
type BorrowRequest struct {
	MemberID string
	BookID   string
	DueDate  time.Time
	Price    *float64
}

// Engine runs borrow and return for the current actor.
type Engine struct {
	store       Store
	eligibility Eligibility
	identity    access.Resolver
	notifier    notify.Notifier
	logger      *slog.Logger
	now         func() time.Time
	loanPeriod  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLoanPeriod overrides DefaultLoanPeriod. Non-positive values are ignored.
func WithLoanPeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.loanPeriod = d
		}
	}
}

// New builds an engine.
func New(store Store, eligibility Eligibility, identity access.Resolver, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		eligibility: eligibility,
		identity:    identity,
		notifier:    notify.Nop{},
		logger:      slog.Default(),
		now:         time.Now,
		loanPeriod:  DefaultLoanPeriod,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Borrow lends one copy of a book to a member.
//
// The copy is claimed first with a conditional update, so two borrows racing
// for the last copy cannot both succeed. If recording the transaction then
// fails, the copy is released again and a *library.PartialFailureError is
// returned.
func (e *Engine) Borrow(ctx context.Context, req BorrowRequest) (library.Transaction, error) {
	actor := e.identity.CurrentActor()
	if err := access.RequireRole(actor, access.Librarian); err != nil {
		return library.Transaction{}, err
	}
	now := e.now().UTC()

	if req.Price != nil && *req.Price < 0 {
		return library.Transaction{}, library.Validation("price must not be negative")
	}
	due := req.DueDate
	if due.IsZero() {
		due = now.Add(e.loanPeriod)
	}
	due = due.UTC()
	if due.Before(now) {
		return library.Transaction{}, library.Validation("due date %s is in the past", due.Format(time.DateOnly))
	}

	barred, err := e.eligibility.IsBlacklisted(ctx, req.MemberID)
	if err != nil {
		return library.Transaction{}, err
	}
	if barred {
		e.notifier.Notify(notify.Error, "Member is blacklisted")
		return library.Transaction{}, library.ErrMemberBlacklisted
	}

	member, err := e.store.GetMember(ctx, req.MemberID)
	if err != nil {
		return library.Transaction{}, err
	}
	if member.Status != library.MemberActive {
		return library.Transaction{}, library.Validation("member %s is %s", member.FullName, member.Status)
	}

	book, err := e.store.ClaimCopy(ctx, req.BookID)
	if err != nil {
		if errors.Is(err, library.ErrBookUnavailable) {
			e.notifier.Notify(notify.Error, "Book is not available")
		}
		return library.Transaction{}, err
	}

	tx, err := e.store.InsertTransaction(ctx, library.Transaction{
		MemberID:        member.ID,
		BookID:          book.ID,
		BookTitle:       book.Title,
		Type:            library.TypeBorrow,
		TransactionDate: now,
		DueDate:         &due,
		Status:          library.StatusActive,
		Price:           req.Price,
		ProcessedBy:     actor.ID,
	})
	if err != nil {
		pf := &library.PartialFailureError{Op: "borrow", ID: book.ID, Err: err}
		// Compensation must outlive a cancelled caller.
		if _, relErr := e.store.ReleaseCopy(context.WithoutCancel(ctx), book.ID); relErr != nil {
			e.logger.Error("borrow compensation failed", "book", book.ID, "member", member.ID, "error", relErr)
		} else {
			pf.Compensated = true
		}
		e.logger.Error("borrow failed after claiming a copy", "book", book.ID, "member", member.ID,
			"compensated", pf.Compensated, "error", err)
		e.notifier.Notify(notify.Error, "Failed to process borrow")
		return library.Transaction{}, pf
	}
	tx.MemberName = member.FullName

	e.logger.Info("book borrowed", "transaction", tx.ID, "book", book.ID, "member", member.ID,
		"due", due, "by", actor.ID)
	e.notifier.Notify(notify.Success, fmt.Sprintf("%q borrowed by %s", book.Title, member.FullName))
	return tx, nil
}

// Return closes an open loan and puts the copy back. If the copy cannot be
// released the loan is reopened and a *library.PartialFailureError is
// returned.
func (e *Engine) Return(ctx context.Context, transactionID string) (library.Transaction, error) {
	actor := e.identity.CurrentActor()
	if err := access.RequireRole(actor, access.Librarian); err != nil {
		return library.Transaction{}, err
	}

	prev, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return library.Transaction{}, err
	}
	if !prev.Open() {
		return library.Transaction{}, library.ErrAlreadyReturned
	}

	closed, err := e.store.CloseTransaction(ctx, prev.ID, e.now())
	if err != nil {
		return library.Transaction{}, err
	}

	if _, err := e.store.ReleaseCopy(ctx, prev.BookID); err != nil {
		pf := &library.PartialFailureError{Op: "return", ID: prev.ID, Err: err}
		if reErr := e.store.ReopenTransaction(context.WithoutCancel(ctx), prev); reErr != nil {
			e.logger.Error("return compensation failed", "transaction", prev.ID, "error", reErr)
		} else {
			pf.Compensated = true
		}
		e.logger.Error("return failed after closing the loan", "transaction", prev.ID, "book", prev.BookID,
			"compensated", pf.Compensated, "error", err)
		e.notifier.Notify(notify.Error, "Failed to process return")
		return library.Transaction{}, pf
	}

	e.logger.Info("book returned", "transaction", closed.ID, "book", closed.BookID, "by", actor.ID)
	e.notifier.Notify(notify.Success, fmt.Sprintf("%q returned", closed.BookTitle))
	return closed, nil
}

// RecomputeOverdue marks open loans past due as overdue. Running it twice
// with the same now changes nothing the second time.
func (e *Engine) RecomputeOverdue(ctx context.Context, now time.Time) (int, error) {
	n, err := e.store.MarkOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("loans marked overdue", "count", n)
	}
	return n, nil
}

// ListTransactions returns the log newest first, with overdue statuses
// refreshed.
func (e *Engine) ListTransactions(ctx context.Context, f library.TransactionFilter) ([]library.Transaction, error) {
	if err := access.Require(e.identity.CurrentActor(), access.ViewReports); err != nil {
		return nil, err
	}
	if _, err := e.RecomputeOverdue(ctx, e.now()); err != nil {
		e.logger.Warn("overdue sweep before listing failed", "error", err)
	}
	return e.store.ListTransactions(ctx, f)
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time { return e.now() }
