package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"librarydesk/circulation"
	"librarydesk/library"
)

var errQuit = errors.New("quit")

// shell is the interactive desk. It keeps one session open for its whole
// lifetime and re-prompts for credentials after sign out or expiry.
type shell struct {
	*app
	sc *bufio.Scanner
}

func (a *app) runShell(cmd *cobra.Command, _ []string) error {
	sh := &shell{app: a, sc: bufio.NewScanner(os.Stdin)}
	ctx := cmd.Context()

	stop := a.mgr.StartSweeper(ctx)
	defer stop()

	fmt.Fprintln(a.out, "Welcome to the Library Circulation Desk!")
	if err := sh.signIn(ctx); err != nil {
		if errors.Is(err, errQuit) {
			return nil
		}
		return err
	}
	sh.help()

	for {
		if a.mgr.CurrentActor() == nil {
			fmt.Fprintln(a.out, "You are signed out.")
			if err := sh.signIn(ctx); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
		fmt.Fprint(a.out, "\n> ")
		if !sh.sc.Scan() {
			return nil
		}
		line := strings.TrimSpace(sh.sc.Text())

		var err error
		switch line {
		case "":
			continue
		case "help":
			sh.help()
		case "nav", "whoami":
			printNav(a.out, a.mgr.CurrentActor(), a.mgr.Nav())
		case "list books", "search books":
			err = sh.listBooks(ctx)
		case "add book":
			err = sh.addBook(ctx)
		case "list members", "search members":
			err = sh.listMembers(ctx)
		case "add member":
			err = sh.addMember(ctx)
		case "borrow", "checkout":
			err = sh.borrow(ctx)
		case "return":
			err = sh.returnBook(ctx)
		case "transactions":
			err = sh.transactions(ctx)
		case "blacklist":
			err = sh.listBlacklist(ctx)
		case "add blacklist":
			err = sh.addBlacklist(ctx)
		case "toggle blacklist":
			err = sh.toggleBlacklist(ctx)
		case "stats":
			err = sh.stats(ctx)
		case "sign out":
			err = a.mgr.SignOut(ctx)
		case "exit", "quit":
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(a.out, "Unknown command. Type 'help' to see the available commands.")
		}
		if err != nil {
			fmt.Fprintln(a.out, "Error:", describeErr(err))
		}
	}
}

func (sh *shell) help() {
	w := sh.out
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  Books: list books, add book")
	fmt.Fprintln(w, "  Members: list members, add member")
	fmt.Fprintln(w, "  Circulation: borrow, return, transactions")
	fmt.Fprintln(w, "  Blacklist: blacklist, add blacklist, toggle blacklist")
	fmt.Fprintln(w, "  System: stats, nav, sign out, help, exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tips:")
	fmt.Fprintln(w, "  • Press Enter at a search prompt to list everything")
}

// signIn loops until credentials are accepted. An empty email quits.
func (sh *shell) signIn(ctx context.Context) error {
	for {
		email, ok := sh.prompt("Email (empty to quit): ")
		if !ok || email == "" {
			return errQuit
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		if err := sh.mgr.SignIn(ctx, email, password); err != nil {
			fmt.Fprintln(sh.out, describeErr(err))
			if errors.Is(err, library.ErrInvalidCredentials) {
				continue
			}
			return err
		}
		actor := sh.mgr.CurrentActor()
		fmt.Fprintf(sh.out, "Signed in as %s (%s)\n", actor.DisplayName, actor.Role)
		return nil
	}
}

func (sh *shell) prompt(label string) (string, bool) {
	fmt.Fprint(sh.out, label)
	if !sh.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.sc.Text()), true
}

func (sh *shell) listBooks(ctx context.Context) error {
	q, _ := sh.prompt("Search: ")
	books, err := sh.mgr.Catalog.ListBooks(ctx, q)
	if err != nil {
		return err
	}
	printBooks(sh.out, books)
	return nil
}

func (sh *shell) addBook(ctx context.Context) error {
	title, _ := sh.prompt("Title: ")
	author, _ := sh.prompt("Author: ")
	isbn, _ := sh.prompt("ISBN (optional): ")
	category, _ := sh.prompt("Category (optional): ")
	location, _ := sh.prompt("Location (optional): ")
	copiesStr, _ := sh.prompt("Copies [1]: ")
	copies := 1
	if copiesStr != "" {
		n, err := strconv.Atoi(copiesStr)
		if err != nil {
			return library.Validation("invalid number of copies: %s", copiesStr)
		}
		copies = n
	}
	b, err := sh.mgr.Catalog.AddBook(ctx, library.Book{
		Title: title, Author: author, ISBN: isbn, Category: category, Location: location, Copies: copies,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Added book ID %s\n", b.ID)
	return nil
}

func (sh *shell) listMembers(ctx context.Context) error {
	q, _ := sh.prompt("Search: ")
	members, err := sh.mgr.Catalog.ListMembers(ctx, q)
	if err != nil {
		return err
	}
	printMembers(sh.out, members)
	return nil
}

func (sh *shell) addMember(ctx context.Context) error {
	name, _ := sh.prompt("Full name: ")
	email, _ := sh.prompt("Email: ")
	phone, _ := sh.prompt("Phone (optional): ")
	typ, _ := sh.prompt("Membership type [student]: ")
	m, err := sh.mgr.Catalog.AddMember(ctx, library.Member{
		FullName: name, Email: email, Phone: phone, MembershipType: library.MembershipType(typ),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Added member '%s' with ID %s\n", m.FullName, m.ID)
	return nil
}

func (sh *shell) borrow(ctx context.Context) error {
	memberID, _ := sh.prompt("Member ID: ")
	bookID, _ := sh.prompt("Book ID: ")
	dueStr, _ := sh.prompt("Due date YYYY-MM-DD (empty for default): ")
	priceStr, _ := sh.prompt("Price (optional): ")

	due, err := parseDueDate(dueStr)
	if err != nil {
		return err
	}
	req := circulation.BorrowRequest{MemberID: memberID, BookID: bookID, DueDate: due}
	if priceStr != "" {
		p, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			return library.Validation("invalid price: %s", priceStr)
		}
		req.Price = &p
	}
	tx, err := sh.mgr.Circulation.Borrow(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Transaction %s, due %s\n", tx.ID, formatDate(tx.DueDate))
	return nil
}

func (sh *shell) returnBook(ctx context.Context) error {
	id, _ := sh.prompt("Transaction ID: ")
	tx, err := sh.mgr.Circulation.Return(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Returned %q\n", tx.BookTitle)
	return nil
}

func (sh *shell) transactions(ctx context.Context) error {
	status, _ := sh.prompt("Status (active/completed/overdue, empty for all): ")
	q, _ := sh.prompt("Search: ")
	txs, err := sh.mgr.Circulation.ListTransactions(ctx, library.TransactionFilter{
		Status: library.TransactionStatus(status),
		Search: q,
	})
	if err != nil {
		return err
	}
	printTransactions(sh.out, txs)
	return nil
}

func (sh *shell) listBlacklist(ctx context.Context) error {
	q, _ := sh.prompt("Search: ")
	entries, err := sh.mgr.Blacklist.ListEntries(ctx, q)
	if err != nil {
		return err
	}
	printBlacklist(sh.out, entries)
	return nil
}

func (sh *shell) addBlacklist(ctx context.Context) error {
	memberID, _ := sh.prompt("Member ID: ")
	reason, _ := sh.prompt("Reason: ")
	_, err := sh.mgr.Blacklist.AddEntry(ctx, memberID, reason)
	return err
}

func (sh *shell) toggleBlacklist(ctx context.Context) error {
	id, _ := sh.prompt("Entry ID: ")
	_, err := sh.mgr.Blacklist.ToggleActive(ctx, id)
	return err
}

func (sh *shell) stats(ctx context.Context) error {
	s, err := sh.mgr.Catalog.Stats(ctx)
	if err != nil {
		return err
	}
	printStats(sh.out, s)
	return nil
}
