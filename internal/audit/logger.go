package audit

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is a single audit record for an account-affecting action.
type Event struct {
	Action   string
	User     string
	Provider string
	Target   string
	Success  bool
	Err      error
}

var auditLogger = log.Output(os.Stdout).With().Str("component", "audit").Logger()

// SetOutput redirects audit records, for example to a dedicated file.
func SetOutput(w io.Writer) {
	auditLogger = zerolog.New(w).With().Str("component", "audit").Logger()
}

// Record writes an audit event. Audit records are emitted regardless of the
// configured log level.
func Record(ev Event) {
	entry := auditLogger.Log().
		Time("ts", time.Now().UTC()).
		Str("action", ev.Action).
		Bool("success", ev.Success)
	if ev.User != "" {
		entry = entry.Str("user", ev.User)
	}
	if ev.Provider != "" {
		entry = entry.Str("provider", ev.Provider)
	}
	if ev.Target != "" {
		entry = entry.Str("target", ev.Target)
	}
	if ev.Err != nil {
		entry = entry.Err(ev.Err)
	}
	entry.Msg("audit")
}
