package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"librarydesk/access"
	"librarydesk/circulation"
	"librarydesk/config"
	"librarydesk/desk"
	"librarydesk/library"
)

const demoPassword = "password123"

type demoAccount struct {
	Email    string      `yaml:"email"`
	FullName string      `yaml:"full_name"`
	Role     access.Role `yaml:"role"`
}

type demoBook struct {
	Title    string `yaml:"title"`
	Author   string `yaml:"author"`
	ISBN     string `yaml:"isbn"`
	Category string `yaml:"category"`
	Copies   int    `yaml:"copies"`
	Location string `yaml:"location"`
}

type demoMember struct {
	FullName       string                 `yaml:"full_name"`
	Email          string                 `yaml:"email"`
	Phone          string                 `yaml:"phone"`
	MembershipType library.MembershipType `yaml:"membership_type"`
}

type catalogFile struct {
	Accounts []demoAccount `yaml:"accounts"`
	Books    []demoBook    `yaml:"books"`
	Members  []demoMember  `yaml:"members"`
}

var defaultCatalog = catalogFile{
	Accounts: []demoAccount{
		{Email: "demo.librarian@gmail.com", FullName: "Demo Librarian", Role: access.Librarian},
		{Email: "demo.faculty@gmail.com", FullName: "Demo Faculty", Role: access.Faculty},
		{Email: "demo.student@gmail.com", FullName: "Demo Student", Role: access.Student},
	},
	Books: []demoBook{
		{Title: "1984", Author: "George Orwell", Category: "Fiction", Copies: 3, Location: "A-01"},
		{Title: "Animal Farm", Author: "George Orwell", Category: "Fiction", Copies: 2, Location: "A-02"},
		{Title: "The Art of War", Author: "Sun Tzu", Category: "Philosophy", Copies: 1, Location: "B-04"},
		{Title: "The Fellowship of the Ring", Author: "J.R.R. Tolkien", Category: "Fantasy", Copies: 4, Location: "C-10"},
		{Title: "The Two Towers", Author: "J.R.R. Tolkien", Category: "Fantasy", Copies: 2, Location: "C-11"},
		{Title: "The Return of the King", Author: "J.R.R. Tolkien", Category: "Fantasy", Copies: 2, Location: "C-12"},
		{Title: "Romeo and Juliet", Author: "William Shakespeare", Category: "Drama", Copies: 2, Location: "D-03"},
		{Title: "The Three Musketeers", Author: "Alexandre Dumas", Category: "Adventure", Copies: 1, Location: "E-07"},
	},
	Members: []demoMember{
		{FullName: "Ada Lovelace", Email: "ada@example.com", MembershipType: library.MembershipFaculty},
		{FullName: "Alan Turing", Email: "alan@example.com", MembershipType: library.MembershipStudent},
		{FullName: "Grace Hopper", Email: "grace@example.com", MembershipType: library.MembershipPremium},
		{FullName: "Linus Pauling", Email: "linus@example.com", MembershipType: library.MembershipPublic},
	},
}

func main() {
	var (
		configPath  string
		dbPath      string
		catalogPath string
		fresh       bool
	)
	cmd := &cobra.Command{
		Use:          "seed_demo",
		Short:        "Populate a database with demo accounts, books, members and loans",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			catalog := defaultCatalog
			if catalogPath != "" {
				if catalog, err = loadCatalog(catalogPath); err != nil {
					return err
				}
			}
			if fresh {
				removeDatabase(cfg.DatabasePath)
			}
			return seed(cmd.Context(), cfg, catalog)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "librarydesk.yaml", "path to the YAML config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML file with accounts, books and members")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the existing database first")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadCatalog(path string) (catalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogFile{}, fmt.Errorf("read catalog: %w", err)
	}
	var c catalogFile
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return catalogFile{}, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

func removeDatabase(path string) {
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{path, path + "-shm", path + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
		}
	}
}

func seed(ctx context.Context, cfg config.Config, catalog catalogFile) error {
	mgr, err := desk.NewLibraryManager(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer mgr.Close()

	var librarian string
	for _, acct := range catalog.Accounts {
		_, err := mgr.CreateAccount(ctx, acct.Email, demoPassword, library.Profile{FullName: acct.FullName, Role: acct.Role})
		switch {
		case errors.Is(err, library.ErrEmailInUse):
			fmt.Printf("Account %s already exists, skipping\n", acct.Email)
		case err != nil:
			return fmt.Errorf("create %s: %w", acct.Email, err)
		default:
			fmt.Printf("Created %s account %s\n", acct.Role, acct.Email)
		}
		if acct.Role == access.Librarian && librarian == "" {
			librarian = acct.Email
		}
	}
	if librarian == "" {
		return errors.New("the catalog needs at least one librarian account")
	}
	if err := mgr.SignIn(ctx, librarian, demoPassword); err != nil {
		return fmt.Errorf("sign in as %s: %w", librarian, err)
	}

	var (
		books   []library.Book
		members []library.Member
		failed  int
	)
	for _, b := range catalog.Books {
		added, err := mgr.Catalog.AddBook(ctx, library.Book{
			Title: b.Title, Author: b.Author, ISBN: b.ISBN, Category: b.Category, Copies: b.Copies, Location: b.Location,
		})
		if err != nil {
			fmt.Printf("ERROR adding %q - %v\n", b.Title, err)
			failed++
			continue
		}
		books = append(books, added)
	}
	for _, m := range catalog.Members {
		added, err := mgr.Catalog.AddMember(ctx, library.Member{
			FullName: m.FullName, Email: m.Email, Phone: m.Phone, MembershipType: m.MembershipType,
		})
		if err != nil {
			fmt.Printf("ERROR adding %s - %v\n", m.FullName, err)
			failed++
			continue
		}
		members = append(members, added)
	}

	// A few open loans so the transaction log is not empty.
	loans := 0
	for i := 0; i < len(members) && i < len(books); i++ {
		if _, err := mgr.Circulation.Borrow(ctx, circulation.BorrowRequest{MemberID: members[i].ID, BookID: books[i].ID}); err != nil {
			fmt.Printf("ERROR lending %q - %v\n", books[i].Title, err)
			failed++
			continue
		}
		loans++
	}

	fmt.Printf("\nSeed complete!\n")
	fmt.Printf("Books: %d, members: %d, loans: %d, errors: %d\n", len(books), len(members), loans, failed)
	fmt.Printf("Demo accounts use the password %q\n", demoPassword)

	if len(books) > 0 {
		fmt.Println("\nSeeded books:")
		fmt.Printf("%-36s %-40s %-25s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 103))
		for _, b := range books {
			fmt.Printf("%-36s %-40s %-25s\n", b.ID, truncateString(b.Title, 40), truncateString(b.Author, 25))
		}
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
