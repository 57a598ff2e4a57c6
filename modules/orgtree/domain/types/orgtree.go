package types

// OrgType is a closed classification tag attached to orgs
// (e.g. "Umbrella Organization", "Regional Network", "Service Site").
type OrgType struct {
	ID   int64
	Name string
}

// Org is a node in the organization tree. Deleted is a terminal
// soft-delete marker: a deleted org is excluded from traversal results
// but its closure rows are retained.
type Org struct {
	ID      int64
	Name    string
	TypeID  int64
	Active  bool
	Deleted bool
}

// OrgRelation is one row of the closure table: Depth is the number of
// parent links on the unique path from ancestor to descendant, and
// Depth == 0 iff AncestorID == DescendantID.
type OrgRelation struct {
	AncestorID   int64
	DescendantID int64
	Depth        int
}

// OrgRole records that a user, acting under a group, is delegated
// administrative scope rooted at an org.
type OrgRole struct {
	ID     string
	UserID string
	Group  string
	OrgID  int64
}
