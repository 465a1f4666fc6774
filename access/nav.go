package access

// NavItem is one entry of the role-dependent navigation.
type NavItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type navRule struct {
	item NavItem
	// exactly one of perm or role is set; both empty means any signed-in actor.
	perm Permission
	role Role
}

var navRules = []navRule{
	{item: NavItem{ID: "dashboard", Label: "Dashboard"}},
	{item: NavItem{ID: "books", Label: "Books"}, perm: ViewBooks},
	{item: NavItem{ID: "members", Label: "Members"}, perm: ViewMembers},
	{item: NavItem{ID: "transactions", Label: "Transactions"}, role: Librarian},
	{item: NavItem{ID: "blacklist", Label: "Blacklist"}, role: Librarian},
	{item: NavItem{ID: "reports", Label: "Reports"}, perm: ViewReports},
	{item: NavItem{ID: "settings", Label: "Settings"}, perm: ManageSettings},
}

// NavItems returns the sections actor may open, in display order.
func NavItems(actor *Actor) []NavItem {
	if actor == nil {
		return nil
	}
	var items []NavItem
	for _, r := range navRules {
		switch {
		case r.perm != "":
			if !HasPermission(actor, r.perm) {
				continue
			}
		case r.role != "":
			if actor.Role != r.role {
				continue
			}
		}
		items = append(items, r.item)
	}
	return items
}
