package push

import (
	"errors"
	"fmt"
	"strings"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/sanitize"
)

// ErrMalformedSubscription rejects a registration missing its encryption material
var ErrMalformedSubscription = errors.New("malformed push subscription")

// SubscriptionInput is the registration body sent by a browser or the agent
type SubscriptionInput struct {
	Endpoint  string                  `json:"endpoint"`
	Keys      models.SubscriptionKeys `json:"keys"`
	Role      models.Role             `json:"role"`
	Company   string                  `json:"company,omitempty"`
	ServiceID string                  `json:"service_id,omitempty"`
	UserAgent string                  `json:"user_agent,omitempty"`
}

// BuildSubscription validates a registration and returns the row to upsert.
// Nothing partial is ever returned: any missing field is an error.
func BuildSubscription(in SubscriptionInput) (models.PushSubscription, error) {
	endpoint := strings.TrimSpace(in.Endpoint)
	p256dh := strings.TrimSpace(in.Keys.P256dh)
	auth := strings.TrimSpace(in.Keys.Auth)

	var missing []string
	if endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if p256dh == "" {
		missing = append(missing, "keys.p256dh")
	}
	if auth == "" {
		missing = append(missing, "keys.auth")
	}
	if len(missing) > 0 {
		return models.PushSubscription{}, fmt.Errorf("%w: missing %s", ErrMalformedSubscription, strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		return models.PushSubscription{}, fmt.Errorf("%w: endpoint is not a URL", ErrMalformedSubscription)
	}

	role := models.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	if role == "" {
		role = models.RoleConsulta
	}
	if !role.Valid() {
		return models.PushSubscription{}, fmt.Errorf("%w: unknown role %q", ErrMalformedSubscription, in.Role)
	}

	return models.PushSubscription{
		Endpoint:  endpoint,
		Keys:      models.SubscriptionKeys{P256dh: p256dh, Auth: auth},
		Role:      role,
		Company:   optional(in.Company, sanitize.MaxTagLen),
		ServiceID: optional(in.ServiceID, sanitize.MaxIDLen),
		UserAgent: optional(in.UserAgent, sanitize.MaxTextLen),
		IsActive:  true,
	}, nil
}

func optional(s string, max int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = sanitize.Truncate(s, max)
	return &s
}
