package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"librarydesk/access"
	"librarydesk/library"
)

const dateLayout = time.DateOnly

func printBooks(w io.Writer, books []library.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %-22s %-12s %-9s %s\n", "ID", "Title", "Author", "Status", "Copies", "Location")
	fmt.Fprintln(w, strings.Repeat("-", 125))
	for _, b := range books {
		fmt.Fprintf(w, "%-36s %-30s %-22s %-12s %-9s %s\n",
			b.ID,
			truncateString(b.Title, 30),
			truncateString(b.Author, 22),
			b.Status,
			fmt.Sprintf("%d/%d", b.AvailableCopies, b.Copies),
			truncateString(b.Location, 12),
		)
	}
}

func printMembers(w io.Writer, members []library.Member) {
	if len(members) == 0 {
		fmt.Fprintln(w, "No members found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-25s %-28s %-10s %-10s %s\n", "ID", "Name", "Email", "Type", "Status", "Joined")
	fmt.Fprintln(w, strings.Repeat("-", 125))
	for _, m := range members {
		fmt.Fprintf(w, "%-36s %-25s %-28s %-10s %-10s %s\n",
			m.ID,
			truncateString(m.FullName, 25),
			truncateString(m.Email, 28),
			m.MembershipType,
			m.Status,
			m.JoinedAt.Local().Format(dateLayout),
		)
	}
}

func printTransactions(w io.Writer, txs []library.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-20s %-26s %-7s %-10s %-10s %-10s %s\n",
		"ID", "Member", "Book", "Type", "Date", "Due", "Returned", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 135))
	for _, t := range txs {
		fmt.Fprintf(w, "%-36s %-20s %-26s %-7s %-10s %-10s %-10s %s\n",
			t.ID,
			truncateString(t.MemberName, 20),
			truncateString(t.BookTitle, 26),
			t.Type,
			t.TransactionDate.Local().Format(dateLayout),
			formatDate(t.DueDate),
			formatDate(t.ReturnedDate),
			t.Status,
		)
	}
}

func printBlacklist(w io.Writer, entries []library.BlacklistEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No blacklist entries.")
		return
	}
	fmt.Fprintf(w, "%-36s %-22s %-36s %-10s %s\n", "ID", "Member", "Reason", "Since", "Active")
	fmt.Fprintln(w, strings.Repeat("-", 115))
	for _, e := range entries {
		name := e.MemberName
		if name == "" {
			name = "(removed) " + e.MemberID
		}
		fmt.Fprintf(w, "%-36s %-22s %-36s %-10s %t\n",
			e.ID,
			truncateString(name, 22),
			truncateString(e.Reason, 36),
			e.BlacklistedAt.Local().Format(dateLayout),
			e.IsActive,
		)
	}
}

func printStats(w io.Writer, s library.Stats) {
	fmt.Fprintf(w, "Total copies:     %d\n", s.TotalBooks)
	fmt.Fprintf(w, "Available copies: %d\n", s.AvailableBooks)
	fmt.Fprintf(w, "Borrowed copies:  %d\n", s.BorrowedBooks)
	fmt.Fprintf(w, "Members:          %d\n", s.TotalMembers)
	fmt.Fprintf(w, "Overdue loans:    %d\n", s.OverdueBooks)
}

func printNav(w io.Writer, actor *access.Actor, items []access.NavItem) {
	if actor == nil {
		fmt.Fprintln(w, "Not signed in.")
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", actor.DisplayName, actor.Role)
	for _, it := range items {
		fmt.Fprintf(w, "  • %s\n", it.Label)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

// parseDueDate reads a calendar date; the loan is due at the end of that
// day in local time.
func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, library.Validation("due date must look like 2006-01-02")
	}
	return d.Add(24*time.Hour - time.Second), nil
}

// describeErr turns an error into the line shown to the operator.
func describeErr(err error) string {
	var pf *library.PartialFailureError
	switch {
	case errors.As(err, &pf):
		if pf.Compensated {
			return fmt.Sprintf("The %s could not be completed and was rolled back: %v", pf.Op, pf.Err)
		}
		return fmt.Sprintf("The %s was only partly applied; record %s needs manual attention: %v", pf.Op, pf.ID, pf.Err)
	case errors.Is(err, access.ErrForbidden):
		return "You don't have permission to do that."
	case errors.Is(err, library.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, library.ErrMemberBlacklisted):
		return "This member is blacklisted and cannot borrow books."
	case errors.Is(err, library.ErrBookUnavailable):
		return "No copy of this book is available."
	case errors.Is(err, library.ErrAlreadyReturned):
		return "This book has already been returned."
	case errors.Is(err, library.ErrTransport):
		return "The library database is unavailable: " + err.Error()
	}
	return err.Error()
}

func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}
