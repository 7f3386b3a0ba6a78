package push

import (
	"fmt"
	"net/url"
	"strings"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/sanitize"
)

// MessageDefaults are the deployment-wide parts of every notification
type MessageDefaults struct {
	Icon    string
	Badge   string
	BaseURL string
}

var titles = map[models.EventType]string{
	models.EventStart:         "Serviço iniciado",
	models.EventPanic:         "PÂNICO acionado",
	models.EventCheckin:       "Check-in solicitado",
	models.EventCheckinOK:     "Check-in confirmado",
	models.EventCheckinMissed: "Check-in não respondido",
	models.EventHeartbeat:     "Posição atualizada",
}

var vibrations = map[models.EventType][]int{
	models.EventPanic:         {500, 200, 500, 200, 500, 200, 500},
	models.EventCheckinMissed: {300, 100, 300, 100, 300},
	models.EventCheckin:       {200, 100, 200},
	models.EventStart:         {200, 100, 200},
}

// BuildMessage renders the notification for one event type. Title and body come
// from opts when set; the tag collapses repeats of the same type and service.
func BuildMessage(eventType models.EventType, payload map[string]any, opts models.PushOptions, defaults MessageDefaults) models.PushMessage {
	ev := sanitize.Event(string(eventType), payload)
	serviceID := ev.ServiceIDValue()

	title := opts.Title
	if title == "" {
		title = titles[eventType]
		if title == "" {
			title = "Alerta de escolta"
		}
	}
	body := opts.Body
	if body == "" {
		body = describe(eventType, ev)
	}

	tag := string(eventType)
	if serviceID != "" {
		tag += ":" + serviceID
	}

	vibrate := vibrations[eventType]
	if vibrate == nil {
		vibrate = []int{200}
	}

	link := opts.URL
	if link == "" {
		link = clickURL(defaults.BaseURL, serviceID)
	}

	// extra caller keys are bounded like metadata; the canonical fields come from ev
	data := sanitize.Metadata(payload)
	if data == nil {
		data = make(map[string]any, 2)
	}
	for k, v := range ev.Payload() {
		if v != nil {
			data[k] = v
		}
	}
	data["type"] = string(eventType)
	data["url"] = link

	return models.PushMessage{
		Title:              sanitize.Truncate(title, sanitize.MaxTextLen),
		Body:               sanitize.Truncate(body, sanitize.MaxTextLen),
		Icon:               defaults.Icon,
		Badge:              defaults.Badge,
		Tag:                tag,
		Vibrate:            vibrate,
		RequireInteraction: requiresInteraction(eventType),
		Actions:            actions(eventType),
		Data:               data,
	}
}

func requiresInteraction(t models.EventType) bool {
	switch t {
	case models.EventPanic, models.EventCheckin, models.EventCheckinMissed:
		return true
	}
	return false
}

func actions(t models.EventType) []models.PushAction {
	switch t {
	case models.EventPanic:
		return []models.PushAction{{Action: "open", Title: "Abrir"}, {Action: "ack", Title: "Ciente"}}
	case models.EventCheckin:
		return []models.PushAction{{Action: "checkin", Title: "Responder"}}
	case models.EventCheckinMissed:
		return []models.PushAction{{Action: "open", Title: "Ver serviço"}}
	}
	return []models.PushAction{{Action: "open", Title: "Abrir"}}
}

func describe(t models.EventType, ev models.AlarmEvent) string {
	var parts []string
	if ev.ClientName != nil {
		parts = append(parts, *ev.ClientName)
	}
	if ev.Plate != nil {
		parts = append(parts, "placa "+*ev.Plate)
	}
	if ev.Address != nil {
		parts = append(parts, *ev.Address)
	}
	subject := strings.Join(parts, " - ")

	switch t {
	case models.EventPanic:
		if subject == "" {
			return "Botão de pânico acionado"
		}
		return "Botão de pânico acionado: " + subject
	case models.EventCheckin:
		if n := ev.Attempt(); n > 0 {
			return fmt.Sprintf("Confirme sua situação (tentativa %d)", n)
		}
		return "Confirme sua situação"
	case models.EventCheckinMissed:
		if subject == "" {
			return "A equipe não respondeu aos lembretes de check-in"
		}
		return "Sem resposta aos lembretes de check-in: " + subject
	}
	if subject == "" {
		return titles[t]
	}
	return subject
}

func clickURL(base, serviceID string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "/"
	}
	if serviceID == "" {
		return base
	}
	if base == "/" {
		base = ""
	}
	return base + "/servicos/" + url.PathEscape(serviceID)
}
