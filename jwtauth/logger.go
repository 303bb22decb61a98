package jwtauth

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a structured security log entry
type SecurityEvent struct {
	EventType     string        // "success" or "failure"
	Timestamp     time.Time     // Event timestamp
	RequestID     string        // Correlation ID
	UserID        string        // Subject from claims (empty on failure)
	Algorithm     string        // Algorithm declared by the token
	FailureReason string        // Error code (on failure)
	TokenPreview  string        // Redacted on output
	Latency       time.Duration // Verification latency
}

// LogValue implements slog.LogValuer for structured logging with redaction
func (e SecurityEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("event", e.EventType),
		slog.Time("timestamp", e.Timestamp),
		slog.String("request_id", e.RequestID),
		slog.String("user_id", e.UserID),
		slog.String("algorithm", e.Algorithm),
		slog.String("failure_reason", e.FailureReason),
		slog.String("token", redactToken(e.TokenPreview)),
		slog.Duration("latency", e.Latency),
	)
}

func redactToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}

func logSecurityEvent(ctx context.Context, logger *slog.Logger, event SecurityEvent) {
	if logger == nil {
		return
	}

	if event.EventType == "failure" {
		logger.WarnContext(ctx, "token verification failed", "auth_event", event)
	} else {
		logger.InfoContext(ctx, "token verification succeeded", "auth_event", event)
	}
}

func (v *Verifier) logResult(ctx context.Context, token string, claims *Claims, err error, latency time.Duration) {
	logger := v.cfg.Logger()
	if logger == nil {
		return
	}

	requestID, _ := GetRequestID(ctx)
	event := SecurityEvent{
		Timestamp:    time.Now(),
		RequestID:    requestID,
		Algorithm:    algorithmForLog(token),
		TokenPreview: token,
		Latency:      latency,
	}
	if err != nil {
		event.EventType = "failure"
		event.FailureReason = ErrorCodeOf(err)
	} else {
		event.EventType = "success"
		event.UserID = claims.Subject
	}

	logSecurityEvent(ctx, logger, event)
}

// algorithmForLog returns the declared alg or "MALFORMED"; it never fails.
func algorithmForLog(token string) string {
	header, err := decodeHeader(token)
	if err != nil {
		return "MALFORMED"
	}
	if alg, ok := header["alg"].(string); ok {
		return alg
	}
	return "MALFORMED"
}
