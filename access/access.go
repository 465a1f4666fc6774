// Package access holds the fixed role to permission table and the
// helpers every mutating operation uses to check an actor against it.
package access

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden is returned when an actor lacks the authority for an operation.
var ErrForbidden = errors.New("forbidden")

// Role is the single role carried by an authenticated actor.
type Role string

const (
	Librarian Role = "librarian"
	Faculty   Role = "faculty"
	Student   Role = "student"
	Public    Role = "public"
)

// Roles lists every known role, most privileged first.
var Roles = []Role{Librarian, Faculty, Student, Public}

// Permission is a named capability.
type Permission string

const (
	AddBook        Permission = "add_book"
	EditBook       Permission = "edit_book"
	DeleteBook     Permission = "delete_book"
	AddMember      Permission = "add_member"
	EditMember     Permission = "edit_member"
	DeleteMember   Permission = "delete_member"
	ViewReports    Permission = "view_reports"
	ManageSettings Permission = "manage_settings"
	ViewBooks      Permission = "view_books"
	ViewMembers    Permission = "view_members"
)

// rolePermissions is built once and never mutated.
var rolePermissions = map[Role]map[Permission]struct{}{
	Librarian: set(AddBook, EditBook, DeleteBook, AddMember, EditMember, DeleteMember,
		ViewReports, ManageSettings, ViewBooks, ViewMembers),
	Faculty: set(AddBook, EditBook, ViewReports, ViewBooks, ViewMembers),
	Student: set(ViewBooks, ViewMembers),
	Public:  set(ViewBooks),
}

func set(perms ...Permission) map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return m
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Resolver yields the actor for the current operation, or nil when nobody
// is signed in.
type Resolver interface {
	CurrentActor() *Actor
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// PermissionsFor returns the permissions granted to role in table order.
// Unknown roles get none.
func PermissionsFor(role Role) []Permission {
	granted, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(granted))
	for _, p := range allPermissions {
		if _, ok := granted[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

var allPermissions = []Permission{
	AddBook, EditBook, DeleteBook, AddMember, EditMember, DeleteMember,
	ViewReports, ManageSettings, ViewBooks, ViewMembers,
}

// HasPermission reports whether actor's role grants p. A nil actor and any
// permission outside the table are always denied.
func HasPermission(actor *Actor, p Permission) bool {
	if actor == nil {
		return false
	}
	_, ok := rolePermissions[actor.Role][p]
	return ok
}

// Require returns ErrForbidden unless actor holds p.
func Require(actor *Actor, p Permission) error {
	if !HasPermission(actor, p) {
		return fmt.Errorf("%w: %s required", ErrForbidden, p)
	}
	return nil
}

// RequireRole returns ErrForbidden unless actor has exactly role.
func RequireRole(actor *Actor, role Role) error {
	if actor == nil || actor.Role != role {
		return fmt.Errorf("%w: %s only", ErrForbidden, role)
	}
	return nil
}
