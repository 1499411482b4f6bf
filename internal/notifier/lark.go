package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// LarkNotifier sends interactive cards to reviewers over the Lark open
// platform. Reviewer IDs in the intake definition are Lark open IDs.
type LarkNotifier struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkNotifier creates a Lark-backed reviewer notifier
func NewLarkNotifier(appID, appSecret string, logger *zap.Logger) *LarkNotifier {
	client := lark.NewClient(appID, appSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)

	return &LarkNotifier{
		client: client,
		logger: logger,
	}
}

// NotifyReviewRequested sends the review card to every gate reviewer.
// Partial failure is tolerated: the gate still counts decisions from
// reviewers the card never reached.
func (n *LarkNotifier) NotifyReviewRequested(ctx context.Context, req *port.ReviewRequest) error {
	return n.broadcast(ctx, req.Reviewers, reviewCard(req), "review_requested", req.SubmissionID)
}

// NotifyEscalation sends the overdue card to every gate reviewer.
func (n *LarkNotifier) NotifyEscalation(ctx context.Context, notice *port.EscalationNotice) error {
	return n.broadcast(ctx, notice.Reviewers, escalationCard(notice), "escalation", notice.SubmissionID)
}

func (n *LarkNotifier) broadcast(ctx context.Context, reviewers []string, card map[string]interface{}, kind, submissionID string) error {
	content, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	var lastErr error
	successCount := 0
	for _, openID := range reviewers {
		if openID == "" {
			n.logger.Warn("Reviewer has no open_id, skipping",
				zap.String("submission_id", submissionID))
			continue
		}

		if err := n.sendCard(ctx, openID, string(content)); err != nil {
			n.logger.Error("Failed to send notification",
				zap.String("kind", kind),
				zap.String("open_id", openID),
				zap.String("submission_id", submissionID),
				zap.Error(err))
			lastErr = err
			continue
		}
		successCount++
	}

	if successCount == 0 && lastErr != nil {
		return lastErr
	}

	n.logger.Info("Reviewer notification sent",
		zap.String("kind", kind),
		zap.String("submission_id", submissionID),
		zap.Int("success_count", successCount),
		zap.Int("reviewers", len(reviewers)))
	return nil
}

// sendCard sends one interactive card message using open_id addressing
func (n *LarkNotifier) sendCard(ctx context.Context, openID, content string) error {
	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType("interactive").
			Content(content).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	return nil
}

// Verify interface compliance
var _ port.ReviewerNotifier = (*LarkNotifier)(nil)
