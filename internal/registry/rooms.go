package registry

import (
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Rooms tracks which users are currently connected to each room. Member lists
// are copy-on-write: a stored slice is never mutated after it is published,
// so readers never observe a partial update.
type Rooms struct {
	m cmap.ConcurrentMap[string, []int64]
}

func NewRooms() *Rooms {
	return &Rooms{m: cmap.New[[]int64]()}
}

// Join adds userID to roomID. It reports false if the user was already present.
func (r *Rooms) Join(roomID string, userID int64) bool {
	added := false
	r.m.Upsert(roomID, nil, func(exist bool, members, _ []int64) []int64 {
		if exist && slices.Contains(members, userID) {
			return members
		}
		added = true
		next := make([]int64, len(members), len(members)+1)
		copy(next, members)
		return append(next, userID)
	})
	return added
}

// Leave removes userID from roomID and prunes the room once it is empty.
func (r *Rooms) Leave(roomID string, userID int64) bool {
	if !r.m.Has(roomID) {
		return false
	}
	removed := false
	r.m.Upsert(roomID, nil, func(exist bool, members, _ []int64) []int64 {
		i := slices.Index(members, userID)
		if i < 0 {
			return members
		}
		removed = true
		next := make([]int64, 0, len(members)-1)
		next = append(next, members[:i]...)
		return append(next, members[i+1:]...)
	})
	r.m.RemoveCb(roomID, func(_ string, members []int64, exists bool) bool {
		return exists && len(members) == 0
	})
	return removed
}

// Members returns a copy of the users present in roomID, in join order.
func (r *Rooms) Members(roomID string) []int64 {
	members, ok := r.m.Get(roomID)
	if !ok || len(members) == 0 {
		return []int64{}
	}
	return slices.Clone(members)
}

func (r *Rooms) Contains(roomID string, userID int64) bool {
	members, ok := r.m.Get(roomID)
	return ok && slices.Contains(members, userID)
}

// Count is the number of rooms with at least one member.
func (r *Rooms) Count() int {
	return r.m.Count()
}
