package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLogout           EventType = "logout"
	EventAuthFailure      EventType = "auth_failure"
	EventAccessDenied     EventType = "access_denied"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventSyncTriggered    EventType = "sync_triggered"
	EventPasswordReset    EventType = "password_reset"
	EventPasswordChange   EventType = "password_change"
	EventActivationChange EventType = "activation_change"
)

type Event struct {
	Type        EventType
	PrincipalID string
	TargetID    string
	IP          string
	UserAgent   string
	Details     map[string]any
}

func Log(_ context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.PrincipalID != "" {
		logger = logger.With().Str("principal_id", event.PrincipalID).Logger()
	}
	if event.TargetID != "" {
		logger = logger.With().Str("target_id", event.TargetID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

// LogFromRequest fills in the caller address. RemoteAddr is trusted as-is;
// forwarded headers are resolved earlier by chi's RealIP.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
