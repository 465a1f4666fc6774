package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"librarydesk/access"
	"librarydesk/config"
	"librarydesk/desk"
	"librarydesk/library"
)

func TestFailedCommandRevokesItsSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("LIBRARYDESK_BCRYPT_COST", "4")
	t.Setenv(passwordEnv, "password123")

	cfg := config.Default()
	cfg.DatabasePath = dbPath
	cfg.BcryptCost = bcrypt.MinCost
	mgr, err := desk.NewLibraryManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := mgr.CreateAccount(context.Background(), "lib@example.com", "password123",
		library.Profile{FullName: "Lib", Role: access.Librarian}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	mgr.Close()

	code := run([]string{"--config", "", "--db", dbPath, "--email", "lib@example.com",
		"borrow", "--member", "missing", "--book", "missing"})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var open int
	if err := db.QueryRow(`SELECT COUNT(*) FROM auth_sessions`).Scan(&open); err != nil {
		t.Fatalf("count: %v", err)
	}
	if open != 0 {
		t.Fatalf("%d session(s) left open after a failed command", open)
	}
}
