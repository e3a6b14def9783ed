package daemon

import (
	"strings"

	"github.com/harun/mcpgate/internal/config"
	"github.com/harun/mcpgate/internal/logger"
	"github.com/harun/mcpgate/pkg/hooks"
	"github.com/harun/mcpgate/pkg/session"
)

func newHookManager(cfg config.HooksConfig, log *logger.Logger) (*hooks.Manager, error) {
	defs := make([]hooks.Hook, 0, len(cfg.Hooks))
	for _, entry := range cfg.Hooks {
		defs = append(defs, hooks.Hook{
			ID:      strings.TrimSpace(entry.ID),
			Event:   strings.TrimSpace(entry.Event),
			Script:  strings.TrimSpace(entry.Script),
			Timeout: entry.Timeout,
			Enabled: entry.Enabled,
		})
	}

	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Enabled,
		Hooks:   defs,
		Logger:  log.Zerolog(),
	})
}

// bindSessionHooks fires session hooks off the request path.
func (d *Daemon) bindSessionHooks() {
	d.sessions.OnCreate(func(s *session.Session) {
		d.hooks.Fire(hooks.EventSessionCreated, map[string]interface{}{
			"session_id": s.ID(),
		})
	})
	d.sessions.OnClose(func(s *session.Session, reason session.CloseReason) {
		d.hooks.Fire(hooks.EventSessionClosed, map[string]interface{}{
			"session_id": s.ID(),
			"reason":     string(reason),
		})
	})
}
