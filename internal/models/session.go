package models

// Session is the identity and scope a running agent operates under
type Session struct {
	Role      Role   `json:"role"`
	Company   string `json:"company,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// ReceivesPanics reports whether this session arms the siren on panic events
func (s Session) ReceivesPanics() bool {
	return s.Role == RoleAdmin || s.Role == RoleConsulta
}

// InScope reports whether ev belongs to this session's company. Sessions without a
// company see everything.
func (s Session) InScope(ev AlarmEvent) bool {
	if s.Company == "" || ev.Company == nil {
		return true
	}
	return *ev.Company == s.Company
}

// AddressedCheckin reports whether ev is a check-in reminder for this custodian session
func (s Session) AddressedCheckin(ev AlarmEvent) bool {
	return ev.Type == EventCheckin &&
		s.Role == RoleCustodia &&
		s.ServiceID != "" &&
		ev.ServiceIDValue() == s.ServiceID
}
