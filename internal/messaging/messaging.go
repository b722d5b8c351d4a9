package messaging

import (
	"fmt"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"
)

// New builds the messenger selected by cfg.Driver.
func New(cfg config.MessagingConfig, logger *zerolog.Logger) (domain.Messenger, error) {
	switch cfg.Driver {
	case config.MessagingWebhook:
		return NewWebhookMessenger(cfg, logger), nil
	case config.MessagingLog:
		return NewLogMessenger(logger), nil
	default:
		return nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
	}
}
