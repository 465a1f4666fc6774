package access

import (
	"errors"
	"testing"
)

func TestPermissionTable(t *testing.T) {
	want := map[Role][]Permission{
		Librarian: {AddBook, EditBook, DeleteBook, AddMember, EditMember, DeleteMember, ViewReports, ManageSettings, ViewBooks, ViewMembers},
		Faculty:   {AddBook, EditBook, ViewReports, ViewBooks, ViewMembers},
		Student:   {ViewBooks, ViewMembers},
		Public:    {ViewBooks},
	}

	for _, role := range Roles {
		t.Run(string(role), func(t *testing.T) {
			actor := &Actor{ID: "a", Role: role}
			granted := map[Permission]bool{}
			for _, p := range want[role] {
				granted[p] = true
			}
			for _, p := range allPermissions {
				if got := HasPermission(actor, p); got != granted[p] {
					t.Errorf("HasPermission(%s, %s) = %v, want %v", role, p, got, granted[p])
				}
			}
			got := PermissionsFor(role)
			if len(got) != len(want[role]) {
				t.Fatalf("PermissionsFor(%s) = %v, want %v", role, got, want[role])
			}
			for i := range got {
				if got[i] != want[role][i] {
					t.Fatalf("PermissionsFor(%s)[%d] = %s, want %s", role, i, got[i], want[role][i])
				}
			}
		})
	}
}

func TestHasPermissionFailsClosed(t *testing.T) {
	librarian := &Actor{ID: "l", Role: Librarian}
	if HasPermission(librarian, Permission("drop_tables")) {
		t.Fatalf("unknown permission granted")
	}
	if HasPermission(nil, ViewBooks) {
		t.Fatalf("nil actor granted view_books")
	}
	if HasPermission(&Actor{Role: Role("admin")}, ViewBooks) {
		t.Fatalf("unknown role granted view_books")
	}
	if PermissionsFor(Role("admin")) != nil {
		t.Fatalf("unknown role has permissions")
	}
}

func TestRequire(t *testing.T) {
	faculty := &Actor{ID: "f", Role: Faculty}
	if err := Require(faculty, EditBook); err != nil {
		t.Fatalf("faculty edit_book: %v", err)
	}
	if err := Require(faculty, DeleteBook); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if err := RequireRole(faculty, Librarian); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if err := RequireRole(nil, Librarian); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden for nil actor, got %v", err)
	}
	if err := RequireRole(&Actor{Role: Librarian}, Librarian); err != nil {
		t.Fatalf("librarian: %v", err)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Faculty ")
	if err != nil || r != Faculty {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestNavItems(t *testing.T) {
	tests := []struct {
		role Role
		want []string
	}{
		{Librarian, []string{"dashboard", "books", "members", "transactions", "blacklist", "reports", "settings"}},
		{Faculty, []string{"dashboard", "books", "members", "reports"}},
		{Student, []string{"dashboard", "books", "members"}},
		{Public, []string{"dashboard", "books"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			items := NavItems(&Actor{Role: tt.role})
			if len(items) != len(tt.want) {
				t.Fatalf("got %v, want %v", items, tt.want)
			}
			for i, it := range items {
				if it.ID != tt.want[i] {
					t.Fatalf("item %d = %s, want %s", i, it.ID, tt.want[i])
				}
			}
		})
	}
	if NavItems(nil) != nil {
		t.Fatalf("nil actor should see nothing")
	}
}
