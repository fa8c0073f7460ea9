package domain

// Member is what a host knows about the peer on the far side of a session.
// No transport or lifecycle logic here.
type Member struct {
	ID       HostID   `json:"id"`
	Identity Identity `json:"identity"`
}

func NewMember(id HostID, identity Identity) *Member {
	return &Member{ID: id, Identity: identity}
}
