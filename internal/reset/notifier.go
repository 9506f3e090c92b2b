package reset

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// Notice is what the delivery collaborator receives.
type Notice struct {
	Kind        entity.Kind
	PrincipalID string
	Email       string
	Token       string
	ExpiresAt   time.Time
}

// Notifier delivers reset tokens. Delivery mechanics live outside this service.
type Notifier interface {
	SendPasswordReset(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log. The token itself is only emitted
// at debug level, which is meant for local development.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, notice Notice) error {
	n.logger.Infow("password reset notice", "email", notice.Email, "expires_at", notice.ExpiresAt)
	n.logger.Debugw("password reset token", "email", notice.Email, "token", notice.Token)
	return nil
}
