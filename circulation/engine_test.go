package circulation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"librarydesk/access"
	"librarydesk/blacklist"
	"librarydesk/library"
	"librarydesk/notify"
)

type fixedActor struct{ actor *access.Actor }

func (f *fixedActor) CurrentActor() *access.Actor { return f.actor }

// faultyStore fails selected writes so compensation paths can be exercised.
type faultyStore struct {
	*library.Database
	insertErr  error
	releaseErr error
	// onWrite runs before the failing write, e.g. to cancel the caller.
	onWrite func()
}

func (f *faultyStore) InsertTransaction(ctx context.Context, t library.Transaction) (library.Transaction, error) {
	if f.insertErr != nil {
		if f.onWrite != nil {
			f.onWrite()
		}
		return library.Transaction{}, f.insertErr
	}
	return f.Database.InsertTransaction(ctx, t)
}

func (f *faultyStore) ReleaseCopy(ctx context.Context, bookID string) (library.Book, error) {
	if f.releaseErr != nil {
		if f.onWrite != nil {
			f.onWrite()
			f.onWrite = nil
		}
		return library.Book{}, f.releaseErr
	}
	return f.Database.ReleaseCopy(ctx, bookID)
}

type fixture struct {
	db     *library.Database
	store  *faultyStore
	who    *fixedActor
	ledger *blacklist.Ledger
	engine *Engine
	rec    *notify.Recorder
	now    time.Time
}

var librarian = &access.Actor{ID: "lib-1", Role: access.Librarian}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := library.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:    db,
		store: &faultyStore{Database: db},
		who:   &fixedActor{actor: librarian},
		rec:   &notify.Recorder{},
		now:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.ledger = blacklist.New(db, f.who, blacklist.WithClock(clock))
	f.engine = New(f.store, f.ledger, f.who, WithNotifier(f.rec), WithClock(clock))
	return f
}

func (f *fixture) book(t *testing.T, copies, available int) library.Book {
	t.Helper()
	status := library.BookAvailable
	if available == 0 {
		status = library.BookBorrowed
	}
	b, err := f.db.AddBook(context.Background(), library.Book{
		Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Category: "Fiction",
		Status: status, Copies: copies, AvailableCopies: available,
	})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	return b
}

func (f *fixture) member(t *testing.T, name string, status library.MemberStatus) library.Member {
	t.Helper()
	m, err := f.db.AddMember(context.Background(), library.Member{
		FullName: name, Email: name + "@example.com",
		MembershipType: library.MembershipStudent, Status: status,
	})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	return m
}

func (f *fixture) reload(t *testing.T, id string) library.Book {
	t.Helper()
	b, err := f.db.GetBook(context.Background(), id)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	return b
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 2, 2)
	m := f.member(t, "ann", library.MemberActive)

	tx, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if tx.Status != library.StatusActive || tx.ProcessedBy != librarian.ID || tx.BookTitle != b.Title {
		t.Fatalf("tx = %+v", tx)
	}
	if want := f.now.Add(DefaultLoanPeriod); tx.DueDate == nil || !tx.DueDate.Equal(want) {
		t.Fatalf("due = %v, want %v", tx.DueDate, want)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 || got.Status != library.BookAvailable {
		t.Fatalf("after borrow book = %+v", got)
	}

	f.now = f.now.Add(48 * time.Hour)
	closed, err := f.engine.Return(ctx, tx.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if closed.Status != library.StatusCompleted || closed.ReturnedDate == nil || !closed.ReturnedDate.Equal(f.now) {
		t.Fatalf("closed = %+v", closed)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 2 {
		t.Fatalf("after return available = %d", got.AvailableCopies)
	}

	if _, err := f.engine.Return(ctx, tx.ID); !errors.Is(err, library.ErrAlreadyReturned) {
		t.Fatalf("second return: want ErrAlreadyReturned, got %v", err)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 2 {
		t.Fatalf("double return moved inventory: %d", got.AvailableCopies)
	}
}

func TestBorrowLastCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 2, 1)
	ann := f.member(t, "ann", library.MemberActive)
	bo := f.member(t, "bo", library.MemberActive)

	if _, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: ann.ID, BookID: b.ID}); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 0 || got.Status != library.BookBorrowed {
		t.Fatalf("book = %+v", got)
	}
	if _, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: bo.ID, BookID: b.ID}); !errors.Is(err, library.ErrBookUnavailable) {
		t.Fatalf("want ErrBookUnavailable, got %v", err)
	}
	if f.rec.Last().Severity != notify.Error {
		t.Fatalf("expected an error notification, got %+v", f.rec.Last())
	}
}

func TestBorrowBlacklistedMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 3, 3)
	m := f.member(t, "ann", library.MemberActive)
	if _, err := f.ledger.AddEntry(ctx, m.ID, "lost books"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	if _, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID}); !errors.Is(err, library.ErrMemberBlacklisted) {
		t.Fatalf("want ErrMemberBlacklisted, got %v", err)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 3 {
		t.Fatalf("inventory moved: %d", got.AvailableCopies)
	}
	txs, err := f.db.ListTransactions(ctx, library.TransactionFilter{})
	if err != nil || len(txs) != 0 {
		t.Fatalf("transactions = %d, %v", len(txs), err)
	}
}

func TestBorrowRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 1, 1)
	active := f.member(t, "ann", library.MemberActive)
	suspended := f.member(t, "bo", library.MemberSuspended)
	negative := -1.5

	tests := []struct {
		name  string
		actor *access.Actor
		req   BorrowRequest
		want  error
	}{
		{name: "faculty", actor: &access.Actor{ID: "f", Role: access.Faculty},
			req: BorrowRequest{MemberID: active.ID, BookID: b.ID}, want: access.ErrForbidden},
		{name: "signed out", actor: nil,
			req: BorrowRequest{MemberID: active.ID, BookID: b.ID}, want: access.ErrForbidden},
		{name: "negative price", actor: librarian,
			req: BorrowRequest{MemberID: active.ID, BookID: b.ID, Price: &negative}, want: library.ErrValidation},
		{name: "due in past", actor: librarian,
			req: BorrowRequest{MemberID: active.ID, BookID: b.ID, DueDate: f.now.Add(-time.Hour)}, want: library.ErrValidation},
		{name: "unknown member", actor: librarian,
			req: BorrowRequest{MemberID: "ghost", BookID: b.ID}, want: library.ErrNotFound},
		{name: "suspended member", actor: librarian,
			req: BorrowRequest{MemberID: suspended.ID, BookID: b.ID}, want: library.ErrValidation},
		{name: "unknown book", actor: librarian,
			req: BorrowRequest{MemberID: active.ID, BookID: "ghost"}, want: library.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.who.actor = tt.actor
			if _, err := f.engine.Borrow(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 {
		t.Fatalf("rejected borrows moved inventory: %d", got.AvailableCopies)
	}
}

func TestOverdueThenReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)
	price := 2.5

	tx, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID, DueDate: f.now.Add(24 * time.Hour), Price: &price})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if tx.Price == nil || *tx.Price != price {
		t.Fatalf("price = %v", tx.Price)
	}

	f.now = f.now.Add(72 * time.Hour)
	overdue, err := f.engine.ListTransactions(ctx, library.TransactionFilter{Status: library.StatusOverdue})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != tx.ID || overdue[0].MemberName != "ann" {
		t.Fatalf("overdue = %+v", overdue)
	}
	if n, err := f.engine.RecomputeOverdue(ctx, f.now); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}

	closed, err := f.engine.Return(ctx, tx.ID)
	if err != nil {
		t.Fatalf("return overdue loan: %v", err)
	}
	if closed.Status != library.StatusCompleted {
		t.Fatalf("status = %s", closed.Status)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 || got.Status != library.BookAvailable {
		t.Fatalf("book = %+v", got)
	}
}

func TestListTransactionsRequiresReports(t *testing.T) {
	f := newFixture(t)
	f.who.actor = &access.Actor{ID: "s", Role: access.Student}
	if _, err := f.engine.ListTransactions(context.Background(), library.TransactionFilter{}); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	f.who.actor = &access.Actor{ID: "f", Role: access.Faculty}
	if _, err := f.engine.ListTransactions(context.Background(), library.TransactionFilter{}); err != nil {
		t.Fatalf("faculty list: %v", err)
	}
}

func TestBorrowCompensatesFailedInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)
	f.store.insertErr = library.Transport("insert transaction", errors.New("disk full"))

	_, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID})
	if !errors.Is(err, library.ErrPartialFailure) || !errors.Is(err, library.ErrTransport) {
		t.Fatalf("want partial transport failure, got %v", err)
	}
	var pf *library.PartialFailureError
	if !errors.As(err, &pf) || !pf.Compensated || pf.ID != b.ID {
		t.Fatalf("partial failure = %+v", pf)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 || got.Status != library.BookAvailable {
		t.Fatalf("claim not undone: %+v", got)
	}
}

func TestReturnCompensatesFailedRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)
	tx, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.store.releaseErr = library.Transport("release copy", errors.New("connection reset"))
	_, err = f.engine.Return(ctx, tx.ID)
	var pf *library.PartialFailureError
	if !errors.As(err, &pf) || !pf.Compensated || pf.ID != tx.ID {
		t.Fatalf("want compensated partial failure, got %v", err)
	}
	reopened, err := f.db.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reopened.Open() || reopened.ReturnedDate != nil || reopened.Type != library.TypeBorrow {
		t.Fatalf("loan not reopened: %+v", reopened)
	}

	f.store.releaseErr = nil
	if _, err := f.engine.Return(ctx, tx.ID); err != nil {
		t.Fatalf("retry return: %v", err)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 {
		t.Fatalf("available = %d", got.AvailableCopies)
	}
}

func TestCancelledBorrowStillReleasesCopy(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.onWrite = cancel
	f.store.insertErr = context.Canceled

	_, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID})
	var pf *library.PartialFailureError
	if !errors.As(err, &pf) || !pf.Compensated {
		t.Fatalf("want compensated partial failure, got %v", err)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 1 || got.Status != library.BookAvailable {
		t.Fatalf("copy lost after cancellation: %+v", got)
	}
}

func TestCancelledReturnStillReopensLoan(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)
	tx, err := f.engine.Borrow(context.Background(), BorrowRequest{MemberID: m.ID, BookID: b.ID})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.onWrite = cancel
	f.store.releaseErr = context.Canceled

	_, err = f.engine.Return(ctx, tx.ID)
	var pf *library.PartialFailureError
	if !errors.As(err, &pf) || !pf.Compensated {
		t.Fatalf("want compensated partial failure, got %v", err)
	}
	reopened, err := f.db.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reopened.Open() {
		t.Fatalf("loan left closed after cancellation: %+v", reopened)
	}
}

func TestConcurrentBorrowOfLastCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, 1, 1)

	const n = 8
	members := make([]library.Member, n)
	for i := range members {
		members[i] = f.member(t, fmt.Sprintf("m%d", i), library.MemberActive)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, refused int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(m library.Member) {
			defer wg.Done()
			_, err := f.engine.Borrow(ctx, BorrowRequest{MemberID: m.ID, BookID: b.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, library.ErrBookUnavailable):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(members[i])
	}
	wg.Wait()

	if ok != 1 || refused != n-1 {
		t.Fatalf("ok=%d refused=%d", ok, refused)
	}
	if got := f.reload(t, b.ID); got.AvailableCopies != 0 {
		t.Fatalf("available = %d", got.AvailableCopies)
	}
	open, err := f.db.ListTransactions(ctx, library.TransactionFilter{Status: library.StatusActive})
	if err != nil || len(open) != 1 {
		t.Fatalf("open loans = %d, %v", len(open), err)
	}
}

func TestSweeperMarksOverdue(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, 1, 1)
	m := f.member(t, "ann", library.MemberActive)
	tx, err := f.engine.Borrow(context.Background(), BorrowRequest{MemberID: m.ID, BookID: b.ID, DueDate: f.now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.engine, time.Hour, nil).Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := f.db.GetTransaction(context.Background(), tx.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == library.StatusOverdue {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never marked the loan overdue")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}
