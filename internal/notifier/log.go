package notifier

import (
	"context"

	"github.com/formbridge/formbridge/internal/application/port"
	"go.uber.org/zap"
)

// LogNotifier writes review notifications to the structured log. It is the
// default provider and keeps single-binary deployments useful without a
// chat integration.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed reviewer notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyReviewRequested logs the review request.
func (n *LogNotifier) NotifyReviewRequested(ctx context.Context, req *port.ReviewRequest) error {
	n.logger.Info("Review requested",
		zap.String("submission_id", req.SubmissionID),
		zap.String("intake_id", req.IntakeID),
		zap.String("gate", req.Gate),
		zap.Strings("reviewers", req.Reviewers),
		zap.Int("required", req.Required))
	return nil
}

// NotifyEscalation logs the overdue gate.
func (n *LogNotifier) NotifyEscalation(ctx context.Context, notice *port.EscalationNotice) error {
	n.logger.Warn("Review overdue",
		zap.String("submission_id", notice.SubmissionID),
		zap.String("intake_id", notice.IntakeID),
		zap.String("gate", notice.Gate),
		zap.Strings("reviewers", notice.Reviewers),
		zap.Int("approvals", notice.Approvals),
		zap.Int("required", notice.Required))
	return nil
}

// Verify interface compliance
var _ port.ReviewerNotifier = (*LogNotifier)(nil)
