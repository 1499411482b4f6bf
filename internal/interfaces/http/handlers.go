package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/application/service"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/review"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/export"
	"github.com/formbridge/formbridge/internal/webhook"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	submissions service.SubmissionService
	approvals   service.ApprovalService
	deliveries  *webhook.Manager
	exporter    *export.Exporter
	registry    *intake.Registry
	validator   port.Validator
	health      HealthSource
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	submissions service.SubmissionService,
	approvals service.ApprovalService,
	deliveries *webhook.Manager,
	exporter *export.Exporter,
	registry *intake.Registry,
	validator port.Validator,
	health HealthSource,
	logger Logger,
) *Handlers {
	return &Handlers{
		submissions: submissions,
		approvals:   approvals,
		deliveries:  deliveries,
		exporter:    exporter,
		registry:    registry,
		validator:   validator,
		health:      health,
		logger:      logger,
	}
}

// errorBody is the error object FormBridge clients parse on non-2xx.
type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// validationResponse is the 422 envelope carrying field-level detail.
type validationResponse struct {
	OK            bool                   `json:"ok"`
	Error         errorBody              `json:"error"`
	MissingFields []string               `json:"missingFields,omitempty"`
	Issues        []port.ValidationIssue `json:"issues,omitempty"`
}

// submissionResponse flattens the submission into the envelope the SDK
// parses: ok plus the submission fields at the top level.
type submissionResponse struct {
	OK bool `json:"ok"`
	*submission.Submission
	MissingFields []string `json:"missingFields,omitempty"`
}

type actorBody struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createRequest struct {
	Fields         map[string]any `json:"fields"`
	Actor          *actorBody     `json:"actor"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

type fieldsRequest struct {
	ResumeToken string         `json:"resumeToken"`
	Fields      map[string]any `json:"fields"`
	Actor       *actorBody     `json:"actor"`
}

type submitRequest struct {
	ResumeToken string     `json:"resumeToken"`
	Actor       *actorBody `json:"actor"`
}

type cancelRequest struct {
	ResumeToken string     `json:"resumeToken"`
	Reason      string     `json:"reason"`
	Actor       *actorBody `json:"actor"`
}

type uploadRequest struct {
	ResumeToken string     `json:"resumeToken"`
	Field       string     `json:"field"`
	Actor       *actorBody `json:"actor"`
}

type uploadCompleteRequest struct {
	ResumeToken string     `json:"resumeToken"`
	Field       string     `json:"field"`
	Ref         string     `json:"ref"`
	Size        int64      `json:"size"`
	Actor       *actorBody `json:"actor"`
}

type decisionRequest struct {
	Gate     string     `json:"gate"`
	Reviewer *actorBody `json:"reviewer"`
	Decision string     `json:"decision"`
	Comment  string     `json:"comment"`
}

type listRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	reports := h.health.Health(c.Request.Context())

	ok := true
	for _, report := range reports {
		if !report.OK {
			ok = false
		}
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":         ok,
		"components": reports,
	})
}

// CreateSubmission handles POST /intake/:intakeID/submissions
func (h *Handlers) CreateSubmission(c *gin.Context) {
	var req createRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	sub, created, err := h.submissions.Create(c.Request.Context(), service.CreateInput{
		IntakeID:       c.Param("intakeID"),
		Actor:          actor,
		Fields:         req.Fields,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	// An idempotent replay returns the original submission with 200.
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	h.writeSubmission(c, status, sub, true)
}

// ListSubmissions handles GET /intake/:intakeID/submissions
func (h *Handlers) ListSubmissions(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	subs, err := h.submissions.List(c.Request.Context(), c.Param("intakeID"), req.Limit, req.Offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	redacted := make([]*submission.Submission, len(subs))
	for i, sub := range subs {
		redacted[i] = sub.Redacted()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"submissions": redacted,
		"count":       len(redacted),
	})
}

// GetSubmission handles GET /intake/:intakeID/submissions/:submissionID
func (h *Handlers) GetSubmission(c *gin.Context) {
	sub, ok := h.lookup(c)
	if !ok {
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, false)
}

// SetFields handles PATCH /intake/:intakeID/submissions/:submissionID
func (h *Handlers) SetFields(c *gin.Context) {
	var req fieldsRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	sub, err := h.submissions.UpdateFields(c.Request.Context(), service.UpdateFieldsInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
		Fields:       req.Fields,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	// The SDK reads the token back from field updates, so echo it: the
	// caller just proved possession.
	h.writeSubmission(c, http.StatusOK, sub, true)
}

// ListEvents handles GET /intake/:intakeID/submissions/:submissionID/events
func (h *Handlers) ListEvents(c *gin.Context) {
	if _, ok := h.lookup(c); !ok {
		return
	}
	events, err := h.submissions.History(c.Request.Context(), c.Param("submissionID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"events": events,
		"count":  len(events),
	})
}

// Submit handles POST /intake/:intakeID/submissions/:submissionID/submit
func (h *Handlers) Submit(c *gin.Context) {
	var req submitRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	sub, err := h.submissions.Submit(c.Request.Context(), service.SubmitInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, false)
}

// Cancel handles POST /intake/:intakeID/submissions/:submissionID/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	sub, err := h.submissions.Cancel(c.Request.Context(), service.CancelInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
		Reason:       req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, false)
}

// Resume handles POST /intake/:intakeID/submissions/:submissionID/resume
func (h *Handlers) Resume(c *gin.Context) {
	var req submitRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.lookup(c); !ok {
		return
	}

	// Token verification happens inside Resume so the expired-vs-invalid
	// distinction is only revealed to holders of a matching token.
	sub, err := h.submissions.Resume(c.Request.Context(), service.ResumeInput{
		SubmissionID: c.Param("submissionID"),
		Token:        req.ResumeToken,
		Actor:        actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, true)
}

// RotateToken handles POST /intake/:intakeID/submissions/:submissionID/token/rotate
func (h *Handlers) RotateToken(c *gin.Context) {
	var req submitRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	sub, err := h.submissions.RotateResumeToken(c.Request.Context(), service.RotateTokenInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	// The replacement token is only ever returned here.
	h.writeSubmission(c, http.StatusOK, sub, true)
}

// RequestUpload handles POST /intake/:intakeID/submissions/:submissionID/uploads
func (h *Handlers) RequestUpload(c *gin.Context) {
	var req uploadRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Field == "" {
		h.fail(c, http.StatusBadRequest, "bad_request", "field is required")
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	ticket, err := h.submissions.RequestUpload(c.Request.Context(), service.UploadRequestInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
		Field:        req.Field,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ok":           true,
		"uploadId":     ticket.UploadID,
		"submissionId": ticket.SubmissionID,
		"field":        ticket.Field,
	})
}

// CompleteUpload handles POST /intake/:intakeID/submissions/:submissionID/uploads/:uploadID/complete
func (h *Handlers) CompleteUpload(c *gin.Context) {
	var req uploadCompleteRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	actor, err := toActor(req.Actor)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Ref == "" {
		h.fail(c, http.StatusBadRequest, "bad_request", "ref is required")
		return
	}
	if _, ok := h.authorize(c, req.ResumeToken); !ok {
		return
	}

	sub, err := h.submissions.CompleteUpload(c.Request.Context(), service.UploadCompleteInput{
		SubmissionID: c.Param("submissionID"),
		Actor:        actor,
		UploadID:     c.Param("uploadID"),
		Field:        req.Field,
		Ref:          req.Ref,
		Size:         req.Size,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, false)
}

// RecordDecision handles POST /intake/:intakeID/submissions/:submissionID/decisions
func (h *Handlers) RecordDecision(c *gin.Context) {
	var req decisionRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Reviewer == nil || req.Reviewer.ID == "" {
		h.fail(c, http.StatusBadRequest, "bad_request", "reviewer id is required")
		return
	}
	kind := review.Kind(req.Decision)
	if !kind.IsValid() {
		h.fail(c, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown decision %q", req.Decision))
		return
	}
	reviewer, err := toActor(req.Reviewer)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, ok := h.lookup(c); !ok {
		return
	}

	sub, err := h.approvals.RecordDecision(c.Request.Context(), service.DecisionInput{
		SubmissionID: c.Param("submissionID"),
		Gate:         req.Gate,
		Reviewer:     reviewer,
		Decision:     kind,
		Comment:      req.Comment,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSubmission(c, http.StatusOK, sub, false)
}

// ReviewStatus handles GET /intake/:intakeID/submissions/:submissionID/review
func (h *Handlers) ReviewStatus(c *gin.Context) {
	sub, ok := h.lookup(c)
	if !ok {
		return
	}
	gates, err := h.approvals.Progress(c.Request.Context(), sub.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	decisions, err := h.approvals.Decisions(c.Request.Context(), sub.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"submissionId": sub.ID,
		"state":        sub.State,
		"gates":        gates,
		"decisions":    decisions,
	})
}

// ListDeliveries handles GET /admin/deliveries
func (h *Handlers) ListDeliveries(c *gin.Context) {
	submissionID := c.Query("submissionId")
	if submissionID == "" {
		h.fail(c, http.StatusBadRequest, "bad_request", "submissionId query parameter is required")
		return
	}
	list, err := h.deliveries.ListBySubmission(c.Request.Context(), submissionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"deliveries": list,
		"count":      len(list),
	})
}

// GetDelivery handles GET /admin/deliveries/:deliveryID
func (h *Handlers) GetDelivery(c *gin.Context) {
	d, attempts, err := h.deliveries.Get(c.Request.Context(), c.Param("deliveryID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"delivery": d,
		"attempts": attempts,
	})
}

// RetryDelivery handles POST /admin/deliveries/:deliveryID/retry
func (h *Handlers) RetryDelivery(c *gin.Context) {
	d, err := h.deliveries.Retry(c.Request.Context(), c.Param("deliveryID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"ok":       true,
		"delivery": d,
	})
}

// ExportIntake handles GET /admin/intakes/:intakeID/export
func (h *Handlers) ExportIntake(c *gin.Context) {
	intakeID := c.Param("intakeID")
	buf, err := h.exporter.AuditWorkbook(c.Request.Context(), intakeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-audit.xlsx", intakeID))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// lookup loads the submission addressed by the path and checks it belongs
// to the intake in the path. A mismatch reads as not found rather than
// confirming the identifier exists under another intake.
func (h *Handlers) lookup(c *gin.Context) (*submission.Submission, bool) {
	sub, err := h.submissions.Get(c.Request.Context(), c.Param("submissionID"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if sub.IntakeID != c.Param("intakeID") {
		h.fail(c, http.StatusNotFound, "not_found", "submission not found")
		return nil, false
	}
	return sub, true
}

// authorize is lookup plus resume-token verification for mutating routes.
func (h *Handlers) authorize(c *gin.Context, token string) (*submission.Submission, bool) {
	sub, ok := h.lookup(c)
	if !ok {
		return nil, false
	}
	if !submission.VerifyResumeToken(sub.ResumeToken, token) {
		h.fail(c, http.StatusUnauthorized, "unauthorized", "invalid resume token")
		return nil, false
	}
	return sub, true
}

// writeSubmission renders the standard submission envelope. The resume
// token travels only on responses to callers who just created the
// submission or proved possession of the current token.
func (h *Handlers) writeSubmission(c *gin.Context, status int, sub *submission.Submission, includeToken bool) {
	body := sub.Redacted()
	if includeToken {
		body = sub.Clone()
	}
	c.JSON(status, submissionResponse{
		OK:            true,
		Submission:    body,
		MissingFields: h.missingFields(c.Request.Context(), body),
	})
}

// missingFields reports which required fields are still absent, the hint
// agents use to drive progressive form completion. Only meaningful while
// the submission is editable.
func (h *Handlers) missingFields(ctx context.Context, sub *submission.Submission) []string {
	if !sub.State.IsEditable() {
		return nil
	}
	def, err := h.registry.Get(sub.IntakeID)
	if err != nil {
		return nil
	}
	result, err := h.validator.Validate(ctx, def, sub.Fields, port.ValidateFull)
	if err != nil {
		return nil
	}
	return result.MissingFields
}

// writeError maps service and domain errors onto the FormBridge error
// envelope and status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError

	switch {
	case errors.As(err, &verr):
		resp := validationResponse{
			OK:    false,
			Error: errorBody{Type: "validation_failed", Message: verr.Error()},
		}
		if verr.Result != nil {
			resp.MissingFields = verr.Result.MissingFields
			resp.Issues = verr.Result.Issues
		}
		c.JSON(http.StatusUnprocessableEntity, resp)

	case errors.Is(err, submission.ErrNotFound),
		errors.Is(err, intake.ErrUnknownIntake),
		errors.Is(err, webhook.ErrDeliveryNotFound):
		h.fail(c, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, submission.ErrExpired):
		h.fail(c, http.StatusGone, "expired", err.Error())

	case errors.Is(err, submission.ErrInvalidResumeToken):
		h.fail(c, http.StatusUnauthorized, "unauthorized", "invalid resume token")

	case errors.Is(err, submission.ErrInvalidState),
		errors.Is(err, submission.ErrInvalidTransition):
		h.fail(c, http.StatusConflict, "invalid_state", err.Error())

	case errors.Is(err, service.ErrDuplicateDecision):
		h.fail(c, http.StatusConflict, "duplicate_decision", err.Error())

	case errors.Is(err, service.ErrNotAssignedReviewer):
		h.fail(c, http.StatusForbidden, "not_assigned", err.Error())

	case errors.Is(err, service.ErrGateNotActive):
		h.fail(c, http.StatusConflict, "gate_not_active", err.Error())

	case errors.Is(err, webhook.ErrNotRetryable):
		h.fail(c, http.StatusConflict, "not_retryable", err.Error())

	default:
		h.logger.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		h.fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handlers) fail(c *gin.Context, status int, errType, message string) {
	c.JSON(status, errorResponse{
		OK:    false,
		Error: errorBody{Type: errType, Message: message},
	})
}

// bindJSON decodes the request body, tolerating an empty body since every
// field in every request type is optional at the transport level.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// toActor converts the optional request actor. Requests without one are
// attributed to the system principal, matching what the services do.
func toActor(a *actorBody) (submission.Actor, error) {
	if a == nil || a.Kind == "" {
		return submission.SystemActor(), nil
	}
	kind := submission.ActorKind(a.Kind)
	if !kind.IsValid() {
		return submission.Actor{}, fmt.Errorf("unknown actor kind %q", a.Kind)
	}
	return submission.Actor{Kind: kind, ID: a.ID, Name: a.Name}, nil
}
