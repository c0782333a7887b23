package realtime

import (
	"maps"
	"reflect"
	"slices"
	"sort"
	"sync"

	"donorlink.org/internal/domain"
)

// View holds the reconciled collections of one dashboard. Every record is
// merged by id; positions in incoming payloads carry no meaning.
type View struct {
	mu sync.Mutex

	contributions []domain.Contribution
	index         map[string]int
	// touched records the push generation that last changed each id.
	touched      map[string]uint64
	gen          uint64
	statsTouched uint64

	notifications map[string]domain.Notification
	stats         *domain.Stats
	profile       *domain.NGO
}

func NewView() *View {
	return &View{
		index:         make(map[string]int),
		touched:       make(map[string]uint64),
		notifications: make(map[string]domain.Notification),
	}
}

// supersedes reports whether in should replace cur. Timestamps decide when both
// sides carry one; otherwise the later workflow stage wins and equal stages
// resolve to the most recent write.
func supersedes(cur, in domain.Contribution) bool {
	if !cur.UpdatedAt.IsZero() && !in.UpdatedAt.IsZero() && !cur.UpdatedAt.Equal(in.UpdatedAt) {
		return in.UpdatedAt.After(cur.UpdatedAt)
	}
	return in.Status.Rank() >= cur.Status.Rank()
}

// olderTimestamp reports whether in carries an update time strictly before cur's.
func olderTimestamp(cur, in domain.Contribution) bool {
	return !cur.UpdatedAt.IsZero() && !in.UpdatedAt.IsZero() && in.UpdatedAt.Before(cur.UpdatedAt)
}

func mergeContribution(cur, in domain.Contribution) domain.Contribution {
	out := cur
	out.Status = in.Status
	if !in.UpdatedAt.IsZero() {
		out.UpdatedAt = in.UpdatedAt
	}
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.DonorID != "" {
		out.DonorID = in.DonorID
	}
	if in.NGOID != "" {
		out.NGOID = in.NGOID
	}
	return out
}

func sameContribution(a, b domain.Contribution) bool {
	return a.Status == b.Status && a.UpdatedAt.Equal(b.UpdatedAt) && a.Title == b.Title &&
		a.DonorID == b.DonorID && a.NGOID == b.NGOID
}

// ApplyContribution merges a pushed contribution delta and reports whether
// anything visible changed. Replays are no-ops.
func (v *View) ApplyContribution(in domain.Contribution) bool {
	if in.ID == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	i, ok := v.index[in.ID]
	if !ok {
		v.gen++
		v.touched[in.ID] = v.gen
		v.index[in.ID] = len(v.contributions)
		v.contributions = append(v.contributions, in)
		return true
	}
	cur := v.contributions[i]
	if !supersedes(cur, in) {
		return false
	}
	next := mergeContribution(cur, in)
	if sameContribution(cur, next) {
		return false
	}
	v.gen++
	v.touched[in.ID] = v.gen
	v.contributions[i] = next
	return true
}

// ApplyNotification adds n if its id is new. A known id may only flip isRead
// from false to true.
func (v *View) ApplyNotification(n domain.Notification) bool {
	if n.ID == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mergeNotification(n)
}

func (v *View) mergeNotification(n domain.Notification) bool {
	cur, ok := v.notifications[n.ID]
	if !ok {
		v.notifications[n.ID] = n
		return true
	}
	if n.IsRead && !cur.IsRead {
		cur.IsRead = true
		v.notifications[n.ID] = cur
		return true
	}
	return false
}

// ApplyStats replaces the counters unless s is older than what is held.
func (v *View) ApplyStats(s *domain.Stats) bool {
	if s == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.acceptStats(s) {
		return false
	}
	v.gen++
	v.statsTouched = v.gen
	v.stats = s.Clone()
	return true
}

func (v *View) acceptStats(s *domain.Stats) bool {
	cur := v.stats
	if cur == nil {
		return true
	}
	if !cur.UpdatedAt.IsZero() && !s.UpdatedAt.IsZero() && s.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	if cur.Scope == s.Scope && cur.UpdatedAt.Equal(s.UpdatedAt) && maps.Equal(cur.Counters, s.Counters) {
		return false
	}
	return true
}

// MarkPoll returns the generation a poll is issued at. Pass it to ApplySnapshot.
func (v *View) MarkPoll() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen
}

// ApplySnapshot merges a full poll result issued at mark. Existing ids keep
// their position, new ids are appended in snapshot order and ids absent from
// the snapshot are dropped unless a push touched them after mark.
func (v *View) ApplySnapshot(mark uint64, d domain.Dashboard) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	changed := false
	incoming := make(map[string]domain.Contribution, len(d.Contributions))
	var order []string
	for _, c := range d.Contributions {
		if c.ID == "" {
			continue
		}
		if _, dup := incoming[c.ID]; !dup {
			order = append(order, c.ID)
		}
		incoming[c.ID] = c
	}

	merged := make([]domain.Contribution, 0, len(v.contributions)+len(order))
	for _, cur := range v.contributions {
		in, ok := incoming[cur.ID]
		pushedAfter := v.touched[cur.ID] > mark
		switch {
		case !ok && pushedAfter:
			merged = append(merged, cur)
		case !ok:
			delete(v.touched, cur.ID)
			changed = true
		case pushedAfter && !supersedes(cur, in):
			merged = append(merged, cur)
		case olderTimestamp(cur, in):
			merged = append(merged, cur)
		default:
			next := mergeContribution(cur, in)
			next.UpdatedAt = in.UpdatedAt
			if !sameContribution(cur, next) {
				changed = true
			}
			merged = append(merged, next)
		}
		delete(incoming, cur.ID)
	}
	for _, id := range order {
		if c, ok := incoming[id]; ok {
			merged = append(merged, c)
			changed = true
		}
	}
	v.contributions = merged
	clear(v.index)
	for i, c := range merged {
		v.index[c.ID] = i
	}

	for _, n := range d.Notifications {
		if n.ID != "" && v.mergeNotification(n) {
			changed = true
		}
	}

	if d.Stats != nil && (v.statsTouched <= mark || v.acceptNewerStats(d.Stats)) && v.acceptStats(d.Stats) {
		v.stats = d.Stats.Clone()
		changed = true
	}
	if d.Profile != nil && !reflect.DeepEqual(v.profile, d.Profile) {
		p := *d.Profile
		v.profile = &p
		changed = true
	}
	return changed
}

// acceptNewerStats lets a snapshot override a later push only with a strictly
// newer timestamp.
func (v *View) acceptNewerStats(s *domain.Stats) bool {
	return v.stats != nil && !s.UpdatedAt.IsZero() && s.UpdatedAt.After(v.stats.UpdatedAt)
}

// Contributions returns the ordered contributions.
func (v *View) Contributions() []domain.Contribution {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.contributions)
}

// Contribution returns one contribution by id.
func (v *View) Contribution(id string) (domain.Contribution, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.index[id]
	if !ok {
		return domain.Contribution{}, false
	}
	return v.contributions[i], true
}

// Notifications returns notifications newest first.
func (v *View) Notifications() []domain.Notification {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Notification, 0, len(v.notifications))
	for _, n := range v.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Unread counts unread notifications.
func (v *View) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, item := range v.notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func (v *View) Stats() *domain.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats.Clone()
}

func (v *View) Profile() *domain.NGO {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.profile == nil {
		return nil
	}
	p := *v.profile
	return &p
}
