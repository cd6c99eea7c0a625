package rbac

import (
	"encoding/json"
	"sort"
	"time"
)

// Permission represents an atomic named capability, e.g. "tickets.read".
// Codes are drawn from the versioned permission vocabulary and are immutable
// once created: renaming a code would break every role that links to it.
type Permission struct {
	ID       int64  `json:"id,omitempty"`
	Code     string `json:"code"`
	Category string `json:"category"`
}

// Role is a named bundle of permissions. A nil TenantID marks a global
// (system) role that applies to users of any tenant.
type Role struct {
	ID              int64     `json:"id"`
	TenantID        *int64    `json:"tenant_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	IsSystemDefault bool      `json:"is_system_default"`
	PermissionCodes []string  `json:"permission_codes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Team is a group of users that inherits roles collectively.
type Team struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole is a direct role grant to a user, unique per (user, role).
type UserRole struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// TeamMember links a user to a team.
type TeamMember struct {
	ID      int64     `json:"id"`
	TeamID  int64     `json:"team_id"`
	UserID  int64     `json:"user_id"`
	AddedAt time.Time `json:"added_at"`
}

// TeamRole links a role to a team; every member inherits it.
type TeamRole struct {
	ID        int64     `json:"id"`
	TeamID    int64     `json:"team_id"`
	RoleID    int64     `json:"role_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// UserPermissionOverride force-grants (Allow=true) or force-denies
// (Allow=false) a single permission for a user regardless of role
// membership. At most one row exists per (user, permission); setting a
// new value upserts.
type UserPermissionOverride struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	PermissionID   int64     `json:"permission_id"`
	PermissionCode string    `json:"permission_code"`
	Allow          bool      `json:"allow"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PermissionSet is the effective set of permission codes a user holds.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given codes.
func NewPermissionSet(codes ...string) PermissionSet {
	s := make(PermissionSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains code.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code into the set.
func (s PermissionSet) Add(code string) {
	s[code] = struct{}{}
}

// Remove deletes code from the set.
func (s PermissionSet) Remove(code string) {
	delete(s, code)
}

// Codes returns the sorted list of codes in the set.
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Clone returns an independent copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Equal reports whether both sets contain exactly the same codes.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if _, ok := other[c]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted JSON array of codes.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Codes())
}

// UnmarshalJSON decodes a JSON array of codes into the set.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewPermissionSet(codes...)
	return nil
}

// InvalidationEvent tells every service instance to evict the named users
// from its local permission cache. Delivery is best-effort; the cache TTL
// is the liveness backstop when an event is lost.
type InvalidationEvent struct {
	ID      string  `json:"id"`
	UserIDs []int64 `json:"user_ids"`
	Reason  string  `json:"reason,omitempty"`
}
