package tray

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/models"
)

func TestLabel(t *testing.T) {
	title, tooltip := Label(alarm.Status{State: alarm.StateIdle})
	assert.Equal(t, "Escolta", title)
	assert.Equal(t, "Sem alarmes ativos", tooltip)

	id, plate := "svc-1", "ABC1D23"
	title, tooltip = Label(alarm.Status{
		State:   alarm.StateArmed,
		Current: &models.AlarmEvent{Type: models.EventPanic, ServiceID: &id, Plate: &plate},
		Pending: 2,
	})
	assert.Equal(t, "PÂNICO", title)
	assert.Equal(t, "PÂNICO: serviço svc-1 (ABC1D23) +2 pendente(s)", tooltip)

	title, tooltip = Label(alarm.Status{State: alarm.StateArmed, Silenced: true})
	assert.Equal(t, "PÂNICO (silenciado)", title)
	assert.Equal(t, "PÂNICO: serviço desconhecido", tooltip)
}
