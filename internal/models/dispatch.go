package models

// PushAction is a button rendered on the notification
type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PushMessage is what a received push must render
type PushMessage struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	RequireInteraction bool           `json:"requireInteraction"`
	Actions            []PushAction   `json:"actions,omitempty"`
	Data               map[string]any `json:"data"`
}

// PushOptions tunes a single dispatch
type PushOptions struct {
	TTL     int    `json:"ttl,omitempty"`
	Urgency string `json:"urgency,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
}

// DispatchRequest is the body of the push dispatch endpoint
type DispatchRequest struct {
	Filter          *Audience      `json:"filter,omitempty"`
	SubscriptionIDs []int64        `json:"subscriptionIds,omitempty"`
	Endpoints       []string       `json:"endpoints,omitempty"`
	Type            EventType      `json:"type"`
	Payload         map[string]any `json:"payload,omitempty"`
	Options         PushOptions    `json:"options,omitempty"`
}

// Audience folds the explicit id/endpoint lists into the filter
func (r DispatchRequest) Audience() Audience {
	var a Audience
	if r.Filter != nil {
		a = *r.Filter
	}
	if len(r.SubscriptionIDs) > 0 {
		a.SubscriptionIDs = append(a.SubscriptionIDs, r.SubscriptionIDs...)
	}
	if len(r.Endpoints) > 0 {
		a.Endpoints = append(a.Endpoints, r.Endpoints...)
	}
	return a
}

// BroadcastRequest is the convenience shape: {role, empresa, type, payload, event, options}
type BroadcastRequest struct {
	Role    Role           `json:"role,omitempty"`
	Empresa string         `json:"empresa,omitempty"`
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Event   *AlarmEvent    `json:"event,omitempty"`
	Options PushOptions    `json:"options,omitempty"`
}

// DispatchRequest normalizes a broadcast. Event fields are merged under the payload
// so explicit payload keys win.
func (b BroadcastRequest) DispatchRequest() DispatchRequest {
	payload := map[string]any{}
	if b.Event != nil {
		payload = b.Event.Payload()
	}
	for k, v := range b.Payload {
		payload[k] = v
	}
	return DispatchRequest{
		Filter:  &Audience{Role: b.Role, Company: b.Empresa},
		Type:    b.Type,
		Payload: payload,
		Options: b.Options,
	}
}

// DispatchResult aggregates per-subscription outcomes
type DispatchResult struct {
	Delivered int `json:"delivered"`
	Failures  int `json:"failures"`
	Removed   int `json:"removed"`
}
