package messaging

import (
	"context"

	"github.com/rs/zerolog"
)

// LogMessenger writes messages to the log instead of delivering them.
// It is meant for development and for tenants without a gateway.
type LogMessenger struct {
	logger *zerolog.Logger
}

func NewLogMessenger(logger *zerolog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) Send(_ context.Context, tenantID, phone, text string) error {
	m.logger.Info().Str("tenant_id", tenantID).Str("phone", phone).Str("text", text).Msg("Message")
	return nil
}
