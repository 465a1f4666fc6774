package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"librarydesk/access"
	"librarydesk/library"
	"librarydesk/notify"
)

type fixedActor struct{ actor *access.Actor }

func (f *fixedActor) CurrentActor() *access.Actor { return f.actor }

var librarian = &access.Actor{ID: "lib-1", Role: access.Librarian}

func setup(t *testing.T) (*Catalog, *library.Database, *fixedActor) {
	t.Helper()
	db, err := library.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	who := &fixedActor{actor: librarian}
	return New(db, who, WithNotifier(&notify.Recorder{})), db, who
}

func validBook() library.Book {
	return library.Book{Title: " Kindred ", Author: "Octavia E. Butler", ISBN: "9780807083697", Category: "Fiction", Copies: 3}
}

func TestAddBookPutsEveryCopyOnShelf(t *testing.T) {
	c, _, _ := setup(t)
	b := validBook()
	b.AvailableCopies = 1
	added, err := c.AddBook(context.Background(), b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.Title != "Kindred" || added.AvailableCopies != 3 || added.Status != library.BookAvailable || added.ID == "" {
		t.Fatalf("added = %+v", added)
	}
}

func TestAddBookValidation(t *testing.T) {
	c, _, _ := setup(t)
	tests := []struct {
		name   string
		mutate func(*library.Book)
	}{
		{name: "no title", mutate: func(b *library.Book) { b.Title = "  " }},
		{name: "no author", mutate: func(b *library.Book) { b.Author = "" }},
		{name: "zero copies", mutate: func(b *library.Book) { b.Copies = 0 }},
		{name: "bad status", mutate: func(b *library.Book) { b.Status = "lost" }},
		{name: "borrowed with copies on shelf", mutate: func(b *library.Book) { b.Status = library.BookBorrowed }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBook()
			tt.mutate(&b)
			if _, err := c.AddBook(context.Background(), b); !errors.Is(err, library.ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestPermissionsByRole(t *testing.T) {
	ctx := context.Background()
	c, _, who := setup(t)
	book, err := c.AddBook(ctx, validBook())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		role      access.Role
		addBook   bool
		delBook   bool
		listBooks bool
		addMember bool
		listMem   bool
		stats     bool
	}{
		{role: access.Librarian, addBook: true, delBook: true, listBooks: true, addMember: true, listMem: true, stats: true},
		{role: access.Faculty, addBook: true, listBooks: true, listMem: true, stats: true},
		{role: access.Student, listBooks: true, listMem: true},
		{role: access.Public, listBooks: true},
	}
	check := func(t *testing.T, op string, allowed bool, err error) {
		t.Helper()
		if allowed && err != nil {
			t.Errorf("%s: unexpected error %v", op, err)
		}
		if !allowed && !errors.Is(err, access.ErrForbidden) {
			t.Errorf("%s: want ErrForbidden, got %v", op, err)
		}
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			who.actor = &access.Actor{ID: "x", Role: tt.role}
			_, err := c.AddBook(ctx, validBook())
			check(t, "add book", tt.addBook, err)
			_, err = c.ListBooks(ctx, "")
			check(t, "list books", tt.listBooks, err)
			_, err = c.AddMember(ctx, library.Member{FullName: "Pat", Email: "pat@example.com"})
			check(t, "add member", tt.addMember, err)
			_, err = c.ListMembers(ctx, "")
			check(t, "list members", tt.listMem, err)
			_, err = c.Stats(ctx)
			check(t, "stats", tt.stats, err)
			if !tt.delBook {
				check(t, "delete book", false, c.DeleteBook(ctx, book.ID))
			}
		})
	}

	who.actor = nil
	if _, err := c.ListBooks(ctx, ""); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("signed out: want ErrForbidden, got %v", err)
	}
}

func TestUpdateBookShiftsAvailability(t *testing.T) {
	ctx := context.Background()
	c, db, _ := setup(t)
	b, err := c.AddBook(ctx, validBook())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := db.ClaimCopy(ctx, b.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := db.ClaimCopy(ctx, b.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	b.Copies = 5
	b.AvailableCopies = 99
	got, err := c.UpdateBook(ctx, b)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.AvailableCopies != 3 {
		t.Fatalf("available = %d, want 3", got.AvailableCopies)
	}

	b.Copies = 1
	if _, err := c.UpdateBook(ctx, b); !errors.Is(err, library.ErrValidation) {
		t.Fatalf("shrinking below loans: want ErrValidation, got %v", err)
	}
	if err := c.DeleteBook(ctx, b.ID); !errors.Is(err, library.ErrValidation) {
		t.Fatalf("delete with loans: want ErrValidation, got %v", err)
	}
}

func TestMemberLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t)

	m, err := c.AddMember(ctx, library.Member{FullName: "Ada Lovelace", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if m.MembershipType != library.MembershipStudent || m.Status != library.MemberActive {
		t.Fatalf("defaults = %+v", m)
	}
	if _, err := c.AddMember(ctx, library.Member{FullName: "No Mail", Email: "nomail"}); !errors.Is(err, library.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}

	m.Status = library.MemberSuspended
	m.MembershipType = library.MembershipPremium
	if m, err = c.UpdateMember(ctx, m); err != nil || m.Status != library.MemberSuspended {
		t.Fatalf("update = %+v, %v", m, err)
	}

	found, err := c.ListMembers(ctx, "LOVELACE")
	if err != nil || len(found) != 1 {
		t.Fatalf("search = %d, %v", len(found), err)
	}

	if err := c.DeleteMember(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetMember(ctx, m.ID); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStatsRefreshesOverdue(t *testing.T) {
	ctx := context.Background()
	c, db, _ := setup(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	b, err := c.AddBook(ctx, validBook())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	m, err := c.AddMember(ctx, library.Member{FullName: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := db.ClaimCopy(ctx, b.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	due := now.Add(-time.Hour)
	if _, err := db.InsertTransaction(ctx, library.Transaction{
		MemberID: m.ID, BookID: b.ID, BookTitle: b.Title, Type: library.TypeBorrow,
		TransactionDate: now.Add(-48 * time.Hour), DueDate: &due, Status: library.StatusActive,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := library.Stats{TotalBooks: 3, AvailableBooks: 2, BorrowedBooks: 1, TotalMembers: 1, OverdueBooks: 1}
	if s != want {
		t.Fatalf("stats = %+v, want %+v", s, want)
	}
}
