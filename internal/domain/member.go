package domain

import "slices"

// Members is an insertion-ordered set of user ids.
// Not safe for concurrent use; the owner serializes access.
type Members struct {
	ids []UserID
}

func NewMembers(ids ...UserID) Members {
	var m Members
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// Add appends id unless already present. Reports whether it was added.
func (m *Members) Add(id UserID) bool {
	if m.Has(id) {
		return false
	}
	m.ids = append(m.ids, id)
	return true
}

// Remove drops id if present. Reports whether it was removed.
func (m *Members) Remove(id UserID) bool {
	i := slices.Index(m.ids, id)
	if i < 0 {
		return false
	}
	m.ids = slices.Delete(m.ids, i, i+1)
	return true
}

func (m *Members) Has(id UserID) bool { return slices.Contains(m.ids, id) }
func (m *Members) Len() int           { return len(m.ids) }
func (m *Members) Empty() bool        { return len(m.ids) == 0 }

// List returns a copy in insertion order.
func (m *Members) List() []UserID {
	out := make([]UserID, len(m.ids))
	copy(out, m.ids)
	return out
}
