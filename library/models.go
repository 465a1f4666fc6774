package library

import (
	"time"

	"librarydesk/access"
)

// BookStatus is the shelf state of a title. It tracks whether any copy is
// left, not the state of one specific copy.
type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookBorrowed    BookStatus = "borrowed"
	BookReserved    BookStatus = "reserved"
	BookMaintenance BookStatus = "maintenance"
)

// Valid reports whether s is a known status.
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookBorrowed, BookReserved, BookMaintenance:
		return true
	}
	return false
}

// Book is an inventory record. 0 <= AvailableCopies <= Copies holds at all
// times; only borrow and return move AvailableCopies.
type Book struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ISBN            string     `json:"isbn"`
	Category        string     `json:"category"`
	Status          BookStatus `json:"status"`
	Copies          int        `json:"copies"`
	AvailableCopies int        `json:"available_copies"`
	Location        string     `json:"location"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OnLoan is the number of copies currently out.
func (b *Book) OnLoan() int { return b.Copies - b.AvailableCopies }

// MembershipType is the patron category chosen at registration.
type MembershipType string

const (
	MembershipStudent MembershipType = "student"
	MembershipFaculty MembershipType = "faculty"
	MembershipPublic  MembershipType = "public"
	MembershipPremium MembershipType = "premium"
)

// Valid reports whether t is a known membership type.
func (t MembershipType) Valid() bool {
	switch t {
	case MembershipStudent, MembershipFaculty, MembershipPublic, MembershipPremium:
		return true
	}
	return false
}

// MemberStatus is the account state of a patron.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberInactive  MemberStatus = "inactive"
	MemberSuspended MemberStatus = "suspended"
)

// Member represents a registered library patron.
type Member struct {
	ID             string         `json:"id"`
	FullName       string         `json:"full_name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	MembershipType MembershipType `json:"membership_type"`
	Status         MemberStatus   `json:"status"`
	JoinedAt       time.Time      `json:"joined_at"`
}

// Profile is an authentication account. Role is set when the account is
// created and is the only source of an actor's role.
type Profile struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FullName     string      `json:"full_name"`
	Role         access.Role `json:"role"`
	PasswordHash string      `json:"-"` // Don't serialize password hash
	CreatedAt    time.Time   `json:"created_at"`
}

// Actor converts the profile into the principal used for permission checks.
func (p Profile) Actor() *access.Actor {
	return &access.Actor{ID: p.ID, Email: p.Email, DisplayName: p.FullName, Role: p.Role}
}

// BlacklistEntry bars a member from borrowing while IsActive. Entries are
// never deleted, only toggled.
type BlacklistEntry struct {
	ID            string    `json:"id"`
	MemberID      string    `json:"member_id"`
	MemberName    string    `json:"member_name,omitempty"`
	Reason        string    `json:"reason"`
	BlacklistedBy string    `json:"blacklisted_by"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	IsActive      bool      `json:"is_active"`
}

// TransactionType distinguishes an open loan from a closed one.
type TransactionType string

const (
	TypeBorrow TransactionType = "borrow"
	TypeReturn TransactionType = "return"
)

// TransactionStatus is derived from the type, the return date and the due
// date against the wall clock.
type TransactionStatus string

const (
	StatusActive    TransactionStatus = "active"
	StatusCompleted TransactionStatus = "completed"
	StatusOverdue   TransactionStatus = "overdue"
)

// Transaction is one borrow/return record. Status as stored is a cache
// refreshed by the overdue sweep; StatusAt is the authoritative value.
type Transaction struct {
	ID              string            `json:"id"`
	MemberID        string            `json:"member_id"`
	MemberName      string            `json:"member_name,omitempty"`
	BookID          string            `json:"book_id"`
	BookTitle       string            `json:"book_title"`
	Type            TransactionType   `json:"type"`
	TransactionDate time.Time         `json:"transaction_date"`
	DueDate         *time.Time        `json:"due_date,omitempty"`
	ReturnedDate    *time.Time        `json:"returned_date,omitempty"`
	Status          TransactionStatus `json:"status"`
	Price           *float64          `json:"price,omitempty"`
	ProcessedBy     string            `json:"processed_by"`
}

// StatusAt derives the status of t at now.
func (t *Transaction) StatusAt(now time.Time) TransactionStatus {
	if t.Type == TypeReturn || t.ReturnedDate != nil {
		return StatusCompleted
	}
	if t.DueDate != nil && now.After(*t.DueDate) {
		return StatusOverdue
	}
	return StatusActive
}

// Open reports whether the loan has not been returned yet.
func (t *Transaction) Open() bool {
	return t.Status == StatusActive || t.Status == StatusOverdue
}

// TransactionFilter narrows a transaction listing. Zero fields match all.
type TransactionFilter struct {
	Type     TransactionType
	Status   TransactionStatus
	Search   string
	MemberID string
}

// Stats are the dashboard counters.
type Stats struct {
	TotalBooks     int `json:"total_books"`
	AvailableBooks int `json:"available_books"`
	BorrowedBooks  int `json:"borrowed_books"`
	TotalMembers   int `json:"total_members"`
	OverdueBooks   int `json:"overdue_books"`
}
