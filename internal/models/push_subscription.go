package models

import "time"

// Role of the operator owning a push subscription
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleConsulta Role = "CONSULTA"
	RoleCustodia Role = "CUSTODIA"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleConsulta, RoleCustodia:
		return true
	}
	return false
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is one registered delivery endpoint; Endpoint is the natural key
type PushSubscription struct {
	ID         int64            `json:"id,omitempty"`
	Endpoint   string           `json:"endpoint"`
	Keys       SubscriptionKeys `json:"keys"`
	Role       Role             `json:"role"`
	Company    *string          `json:"company,omitempty"`
	ServiceID  *string          `json:"service_id,omitempty"`
	UserAgent  *string          `json:"user_agent,omitempty"`
	IsActive   bool             `json:"is_active"`
	LastSeenAt time.Time        `json:"last_seen_at"`
	CreatedAt  time.Time        `json:"created_at,omitempty"`
}

// Audience selects the subscriptions of a dispatch. Explicit ids or endpoints take
// precedence over the role/company/service scoping.
type Audience struct {
	SubscriptionIDs []int64  `json:"subscriptionIds,omitempty"`
	Endpoints       []string `json:"endpoints,omitempty"`
	Role            Role     `json:"role,omitempty"`
	Company         string   `json:"company,omitempty"`
	ServiceID       string   `json:"service_id,omitempty"`
}

// IsEmpty reports whether the audience selects nothing
func (a Audience) IsEmpty() bool {
	return len(a.SubscriptionIDs) == 0 && len(a.Endpoints) == 0 && a.Role == "" && a.Company == "" && a.ServiceID == ""
}

// EscortService is the subset of an escorted service the alert pipeline reads
type EscortService struct {
	ID          string     `json:"id"`
	Company     *string    `json:"company"`
	ClientName  *string    `json:"client_name"`
	Plate       *string    `json:"plate"`
	ServiceKind *string    `json:"service_kind"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at"`
}
