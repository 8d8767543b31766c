package message

// Pair is a key/value row returned by group queries.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is a full row (including the group label) returned by List.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Group string `json:"group"`
}

// SetRequest stores an entry in exactly one tier, selected by Persistent.
// TTL is in seconds and only meaningful for the memory tier; TTL <= 0 means
// the entry never expires.
type SetRequest struct {
	ID         string
	Persistent bool
	TTL        int
	Key        string
	Value      string
	Group      string
}

// SetResponse reports whether the write was accepted.
type SetResponse struct {
	ID string
	OK bool
}

// GetKeyRequest looks up a single key.
type GetKeyRequest struct {
	ID  string
	Key string
}

// GetKeyResponse carries the stored value, or the empty string when the key
// is absent.
type GetKeyResponse struct {
	ID    string
	Value string
}

// GetGroupRequest looks up every entry labeled with a group.
type GetGroupRequest struct {
	ID    string
	Group string
}

// GetGroupResponse carries the matching key/value pairs. Pairs is never nil.
type GetGroupResponse struct {
	ID    string
	Pairs []Pair
}

// DeleteKeyRequest removes a single key.
type DeleteKeyRequest struct {
	ID  string
	Key string
}

// DeleteKeyResponse carries the number of records removed (0 or 1 per tier).
type DeleteKeyResponse struct {
	ID    string
	Count int
}

// DeleteGroupRequest removes every entry labeled with a group.
type DeleteGroupRequest struct {
	ID    string
	Group string
}

// DeleteGroupResponse carries the number of records removed.
type DeleteGroupResponse struct {
	ID    string
	Count int
}

// ListRequest asks for every stored entry.
type ListRequest struct {
	ID string
}

// ListResponse carries every entry of the answering tier (or, from the
// coordinator, of both tiers merged). Entries is never nil.
type ListResponse struct {
	ID      string
	Entries []Entry
}
