// Package audit writes structured audit entries for role changes and
// authorization denials.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
	"steeple.org/internal/obs"
)

// Event names shared by the transport and the CLI.
const (
	EventDenied      = "authz.denied"
	EventCheckDenied = "authz.check.denied"

	// EventInheritedGrant marks a check satisfied by an ancestor organization.
	EventInheritedGrant = "authz.check.inherited"
)

var errEventRequired = errors.New("event name is required")

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// LogEvent records a mutation or decision. Empty string values are dropped.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, logrus.InfoLevel, event, fields)
}

// LogDecision records a permission decision, at warn level when it was denied.
func LogDecision(ctx context.Context, event string, d authz.Decision) error {
	fields := map[string]any{
		"permission":      d.Permission.String(),
		"organization_id": d.OrganizationID,
		"allowed":         d.Allowed,
	}
	if d.Source != "" {
		fields["source"] = string(d.Source)
	}
	if len(d.RoleIDs) > 0 {
		fields["role_ids"] = d.RoleIDs
	}
	level := logrus.InfoLevel
	if !d.Allowed {
		level = logrus.WarnLevel
	}
	return write(ctx, level, event, fields)
}

func write(ctx context.Context, level logrus.Level, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errEventRequired
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		clean[k] = v
	}
	entry["fields"] = clean

	obs.Logger().WithFields(entry).Log(level, "audit")
	return nil
}
