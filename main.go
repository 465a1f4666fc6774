package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"librarydesk/access"
	"librarydesk/circulation"
	"librarydesk/config"
	"librarydesk/desk"
	"librarydesk/library"
	"librarydesk/notify"
)

const passwordEnv = "LIBRARYDESK_PASSWORD"

// app carries what every command needs once the root has opened the store.
type app struct {
	configPath string
	dbPath     string
	email      string

	cfg    config.Config
	logger *slog.Logger
	mgr    *desk.LibraryManager
	out    io.Writer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and closes the store whether or not the
// command failed.
func run(args []string) int {
	a := &app{}
	defer a.close()
	root := a.rootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describeErr(err))
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "librarydesk",
		Short:             "Library circulation desk: books, members, loans and blacklist",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
		RunE:              a.runShell,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "librarydesk.yaml", "path to the YAML config file")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&a.email, "email", "", "account email to sign in with")

	root.AddCommand(
		a.shellCmd(),
		a.signupCmd(),
		a.booksCmd(),
		a.membersCmd(),
		a.borrowCmd(),
		a.returnCmd(),
		a.transactionsCmd(),
		a.blacklistCmd(),
		a.sweepCmd(),
		a.statsCmd(),
		a.navCmd(),
		a.resetPasswordCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.logger = cfg.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(a.logger)

	mgr, err := desk.NewLibraryManager(cfg,
		desk.WithLogger(a.logger),
		desk.WithNotifier(notify.Multi{notify.NewConsole(a.out), notify.Log{Logger: a.logger}}))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.mgr = mgr
	return nil
}

func (a *app) close() {
	if a.mgr == nil {
		return
	}
	if err := a.mgr.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
	a.mgr = nil
}

// login signs in with --email and a password from the environment or the
// terminal.
func (a *app) login(ctx context.Context) error {
	if a.email == "" {
		return library.Validation("--email is required")
	}
	password, err := passwordFromEnvOrPrompt("Password: ")
	if err != nil {
		return err
	}
	return a.mgr.SignIn(ctx, a.email, password)
}

func passwordFromEnvOrPrompt(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}
	return readPassword(prompt)
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to read the password from; set %s", passwordEnv)
	}
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(bytePassword)), nil
}

// authed wraps a command body so it runs signed in.
func (a *app) authed(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.login(cmd.Context()); err != nil {
			return err
		}
		return run(cmd, args)
	}
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive desk (default)",
		Args:  cobra.NoArgs,
		RunE:  a.runShell,
	}
}

func (a *app) signupCmd() *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in with it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.email == "" {
				return library.Validation("--email is required")
			}
			password, err := passwordFromEnvOrPrompt("Choose a password: ")
			if err != nil {
				return err
			}
			err = a.mgr.Session.SignUp(cmd.Context(), a.email, password, library.Profile{FullName: name, Role: access.Role(role)})
			if err != nil {
				return err
			}
			actor := a.mgr.CurrentActor()
			fmt.Fprintf(a.out, "Account created for %s (%s).\n", actor.DisplayName, actor.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", string(access.Public), "librarian, faculty, student or public")
	return cmd
}

func (a *app) resetPasswordCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for another account",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				return library.Validation("--for is required")
			}
			pw, err := readPassword(fmt.Sprintf("New password for %s: ", target))
			if err != nil {
				return err
			}
			if err := a.mgr.ResetPassword(cmd.Context(), target, pw); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Password updated for %s.\n", target)
			return nil
		}),
	}
	cmd.Flags().StringVar(&target, "for", "", "email of the account to reset")
	return cmd
}

func (a *app) navCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "Show the sections your role can open",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(*cobra.Command, []string) error {
			printNav(a.out, a.mgr.CurrentActor(), a.mgr.Nav())
			return nil
		}),
	}
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

type bookFlags struct {
	title, author, isbn, category, location, status string
	copies                                         int
}

func (f *bookFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.title, "title", "", "title")
	fs.StringVar(&f.author, "author", "", "author")
	fs.StringVar(&f.isbn, "isbn", "", "ISBN")
	fs.StringVar(&f.category, "category", "", "category")
	fs.StringVar(&f.location, "location", "", "shelf location")
	fs.StringVar(&f.status, "status", "", "available, reserved or maintenance")
	fs.IntVar(&f.copies, "copies", 1, "number of copies owned")
}

// apply copies the flags the user actually set onto b.
func (f *bookFlags) apply(cmd *cobra.Command, b *library.Book) {
	changed := cmd.Flags().Changed
	if changed("title") {
		b.Title = f.title
	}
	if changed("author") {
		b.Author = f.author
	}
	if changed("isbn") {
		b.ISBN = f.isbn
	}
	if changed("category") {
		b.Category = f.category
	}
	if changed("location") {
		b.Location = f.location
	}
	if changed("status") {
		b.Status = library.BookStatus(f.status)
	}
	if changed("copies") {
		b.Copies = f.copies
	}
}

func (a *app) booksCmd() *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Manage the book catalog"}

	list := &cobra.Command{
		Use:   "list [search]",
		Short: "List books, optionally filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			found, err := a.mgr.Catalog.ListBooks(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			printBooks(a.out, found)
			return nil
		}),
	}

	var addFlags bookFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			b := library.Book{Copies: addFlags.copies}
			addFlags.apply(cmd, &b)
			added, err := a.mgr.Catalog.AddBook(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added book ID %s\n", added.ID)
			return nil
		}),
	}
	addFlags.register(add)

	var updFlags bookFlags
	update := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Edit a book; only the flags given change",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			b, err := a.mgr.Catalog.GetBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updFlags.apply(cmd, &b)
			updated, err := a.mgr.Catalog.UpdateBook(cmd.Context(), b)
			if err != nil {
				return err
			}
			printBooks(a.out, []library.Book{updated})
			return nil
		}),
	}
	updFlags.register(update)

	del := &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book with no copies on loan",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			return a.mgr.Catalog.DeleteBook(cmd.Context(), args[0])
		}),
	}

	books.AddCommand(list, add, update, del)
	return books
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

type memberFlags struct {
	name, email, phone, membership, status string
}

func (f *memberFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", "", "full name")
	fs.StringVar(&f.email, "member-email", "", "member's email")
	fs.StringVar(&f.phone, "phone", "", "phone number")
	fs.StringVar(&f.membership, "type", "", "student, faculty, public or premium")
	fs.StringVar(&f.status, "status", "", "active, inactive or suspended")
}

func (f *memberFlags) apply(cmd *cobra.Command, m *library.Member) {
	changed := cmd.Flags().Changed
	if changed("name") {
		m.FullName = f.name
	}
	if changed("member-email") {
		m.Email = f.email
	}
	if changed("phone") {
		m.Phone = f.phone
	}
	if changed("type") {
		m.MembershipType = library.MembershipType(f.membership)
	}
	if changed("status") {
		m.Status = library.MemberStatus(f.status)
	}
}

func (a *app) membersCmd() *cobra.Command {
	members := &cobra.Command{Use: "members", Short: "Manage library members"}

	list := &cobra.Command{
		Use:   "list [search]",
		Short: "List members, optionally filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			found, err := a.mgr.Catalog.ListMembers(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			printMembers(a.out, found)
			return nil
		}),
	}

	var addFlags memberFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			var m library.Member
			addFlags.apply(cmd, &m)
			added, err := a.mgr.Catalog.AddMember(cmd.Context(), m)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added member '%s' with ID %s\n", added.FullName, added.ID)
			return nil
		}),
	}
	addFlags.register(add)

	var updFlags memberFlags
	update := &cobra.Command{
		Use:   "update <member-id>",
		Short: "Edit a member; only the flags given change",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			m, err := a.mgr.Catalog.GetMember(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updFlags.apply(cmd, &m)
			updated, err := a.mgr.Catalog.UpdateMember(cmd.Context(), m)
			if err != nil {
				return err
			}
			printMembers(a.out, []library.Member{updated})
			return nil
		}),
	}
	updFlags.register(update)

	del := &cobra.Command{
		Use:   "delete <member-id>",
		Short: "Delete a member with no open loans",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			return a.mgr.Catalog.DeleteMember(cmd.Context(), args[0])
		}),
	}

	members.AddCommand(list, add, update, del)
	return members
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

func (a *app) borrowCmd() *cobra.Command {
	var (
		memberID, bookID, due string
		price                 float64
	)
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Lend a copy of a book to a member",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			dueDate, err := parseDueDate(due)
			if err != nil {
				return err
			}
			req := circulation.BorrowRequest{MemberID: memberID, BookID: bookID, DueDate: dueDate}
			if cmd.Flags().Changed("price") {
				req.Price = &price
			}
			tx, err := a.mgr.Circulation.Borrow(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Transaction %s, due %s\n", tx.ID, formatDate(tx.DueDate))
			return nil
		}),
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member ID")
	cmd.Flags().StringVar(&bookID, "book", "", "book ID")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD); default is the loan period from today")
	cmd.Flags().Float64Var(&price, "price", 0, "fee charged for the loan")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func (a *app) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <transaction-id>",
		Short: "Close a loan and put the copy back",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			tx, err := a.mgr.Circulation.Return(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Returned %q on %s\n", tx.BookTitle, formatDate(tx.ReturnedDate))
			return nil
		}),
	}
}

func (a *app) transactionsCmd() *cobra.Command {
	var f struct{ typ, status, member, search string }
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List the transaction log, newest first",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			txs, err := a.mgr.Circulation.ListTransactions(cmd.Context(), library.TransactionFilter{
				Type:     library.TransactionType(f.typ),
				Status:   library.TransactionStatus(f.status),
				MemberID: f.member,
				Search:   f.search,
			})
			if err != nil {
				return err
			}
			printTransactions(a.out, txs)
			return nil
		}),
	}
	cmd.Flags().StringVar(&f.typ, "type", "", "borrow or return")
	cmd.Flags().StringVar(&f.status, "status", "", "active, completed or overdue")
	cmd.Flags().StringVar(&f.member, "member", "", "member ID")
	cmd.Flags().StringVar(&f.search, "search", "", "match book title or member name")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark loans past their due date overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.mgr.Circulation.RecomputeOverdue(cmd.Context(), a.mgr.Circulation.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d loan(s) marked overdue\n", n)
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			s, err := a.mgr.Catalog.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(a.out, s)
			return nil
		}),
	}
}

// ---------------------------------------------------------------------------
// Blacklist
// ---------------------------------------------------------------------------

func (a *app) blacklistCmd() *cobra.Command {
	bl := &cobra.Command{Use: "blacklist", Short: "Manage barred members"}

	list := &cobra.Command{
		Use:   "list [search]",
		Short: "List blacklist entries, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			entries, err := a.mgr.Blacklist.ListEntries(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			printBlacklist(a.out, entries)
			return nil
		}),
	}

	var memberID, reason string
	add := &cobra.Command{
		Use:   "add",
		Short: "Bar a member from borrowing",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			e, err := a.mgr.Blacklist.AddEntry(cmd.Context(), memberID, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Entry %s created\n", e.ID)
			return nil
		}),
	}
	add.Flags().StringVar(&memberID, "member", "", "member ID")
	add.Flags().StringVar(&reason, "reason", "", "why the member is barred")

	toggle := &cobra.Command{
		Use:   "toggle <entry-id>",
		Short: "Activate or deactivate an entry",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			_, err := a.mgr.Blacklist.ToggleActive(cmd.Context(), args[0])
			return err
		}),
	}

	bl.AddCommand(list, add, toggle)
	return bl
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
