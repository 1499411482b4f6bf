// Package notifier pushes review work to humans. The Lark provider sends
// interactive cards through the open platform; the log provider writes
// structured log lines and exists for deployments without a chat tool.
// Notification failures never block the submission lifecycle.
package notifier

import (
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
	"go.uber.org/zap"
)

// Config selects and configures the notification provider.
type Config struct {
	Provider  string `mapstructure:"provider"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// New builds the configured ReviewerNotifier.
func New(cfg Config, logger *zap.Logger) (port.ReviewerNotifier, error) {
	switch cfg.Provider {
	case "lark":
		if cfg.AppID == "" || cfg.AppSecret == "" {
			return nil, fmt.Errorf("lark notifier requires app_id and app_secret")
		}
		return NewLarkNotifier(cfg.AppID, cfg.AppSecret, logger), nil
	case "log", "":
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier provider: %s", cfg.Provider)
	}
}
