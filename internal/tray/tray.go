// Package tray shows the alarm state in the system tray and offers the silence and
// acknowledge controls from its menu.
package tray

import (
	"fmt"

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/notify"

	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

// Controls is the part of the alarm machine the tray drives
type Controls interface {
	Acknowledge() error
	Silence()
	Status() alarm.Status
}

// Opener shows a URL in the desktop browser
type Opener interface {
	OpenBrowser(url string) error
}

// Tray is a presentation adapter over the notification hub
type Tray struct {
	controls  Controls
	hub       *notify.Hub
	opener    Opener
	statusURL string
	onQuit    func()
	logger    *zap.Logger
}

// New creates a tray. statusURL, when set with an opener, adds a menu entry that
// opens the local status endpoint. onQuit runs when the tray exits.
func New(controls Controls, hub *notify.Hub, opener Opener, statusURL string, onQuit func(), logger *zap.Logger) *Tray {
	return &Tray{
		controls:  controls,
		hub:       hub,
		opener:    opener,
		statusURL: statusURL,
		onQuit:    onQuit,
		logger:    logger,
	}
}

// Run blocks on the UI loop. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit ends Run
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	title, tooltip := Label(t.controls.Status())
	systray.SetTitle(title)
	systray.SetTooltip(tooltip)

	status := systray.AddMenuItem(tooltip, "Current alarm state")
	status.Disable()
	systray.AddSeparator()
	silence := systray.AddMenuItem("Silenciar", "Stop the siren without acknowledging")
	ack := systray.AddMenuItem("Confirmar ciência", "Acknowledge the current panic")
	systray.AddSeparator()
	open := systray.AddMenuItem("Abrir status", "Open the agent status in the browser")
	if t.opener == nil || t.statusURL == "" {
		open.Hide()
	}
	quit := systray.AddMenuItem("Sair", "Quit the agent")

	refresh := func() {
		st := t.controls.Status()
		title, tooltip := Label(st)
		systray.SetTitle(title)
		systray.SetTooltip(tooltip)
		status.SetTitle(tooltip)
		if st.State == alarm.StateArmed {
			ack.Enable()
			if st.Silenced {
				silence.Disable()
			} else {
				silence.Enable()
			}
		} else {
			ack.Disable()
			silence.Disable()
		}
	}
	refresh()

	notes, unsubscribe := t.hub.Subscribe(32)
	go func() {
		defer unsubscribe()
		for {
			select {
			case _, ok := <-notes:
				if !ok {
					return
				}
				refresh()
			case <-silence.ClickedCh:
				t.controls.Silence()
			case <-ack.ClickedCh:
				if err := t.controls.Acknowledge(); err != nil {
					t.logger.Debug("Tray acknowledge ignored", zap.Error(err))
				}
			case <-open.ClickedCh:
				if err := t.opener.OpenBrowser(t.statusURL); err != nil {
					t.logger.Warn("Failed to open status page", zap.Error(err))
				}
			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("Tray started")
}

func (t *Tray) onExit() {
	t.logger.Info("Tray stopped")
	if t.onQuit != nil {
		t.onQuit()
	}
}

// Label renders the tray title and tooltip for a status
func Label(st alarm.Status) (title, tooltip string) {
	if st.State != alarm.StateArmed {
		return "Escolta", "Sem alarmes ativos"
	}

	where := "serviço desconhecido"
	if st.Current != nil {
		if id := st.Current.ServiceIDValue(); id != "" {
			where = "serviço " + id
		}
		if st.Current.Plate != nil && *st.Current.Plate != "" {
			where += " (" + *st.Current.Plate + ")"
		}
	}

	tooltip = "PÂNICO: " + where
	if st.Pending > 0 {
		tooltip += fmt.Sprintf(" +%d pendente(s)", st.Pending)
	}
	if st.Silenced {
		return "PÂNICO (silenciado)", tooltip
	}
	return "PÂNICO", tooltip
}
