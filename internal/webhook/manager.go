package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/delivery"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/schedule"
)

// ErrDeliveryNotFound is returned when a delivery identifier is unknown.
var ErrDeliveryNotFound = errors.New("delivery not found")

// ErrNotRetryable is returned when a manual retry targets a delivery that
// has not permanently failed.
var ErrNotRetryable = errors.New("delivery is not in a retryable state")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Manager owns webhook deliveries end to end: it watches the event log,
// enqueues one delivery per matching destination, dispatches attempts on
// the retry ladder, and settles or reschedules based on the outcome.
type Manager struct {
	deliveries  port.DeliveryRepository
	submissions port.SubmissionRepository
	log         *eventlog.Log
	registry    *intake.Registry
	scheduler   schedule.Scheduler
	sender      *Sender
	logger      Logger

	mu     sync.Mutex
	timers map[string]schedule.Handle
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a delivery manager. Call Restore once at startup to
// re-arm timers for deliveries persisted before the last shutdown.
func NewManager(
	deliveries port.DeliveryRepository,
	submissions port.SubmissionRepository,
	log *eventlog.Log,
	registry *intake.Registry,
	scheduler schedule.Scheduler,
	sender *Sender,
	logger Logger,
) *Manager {
	return &Manager{
		deliveries:  deliveries,
		submissions: submissions,
		log:         log,
		registry:    registry,
		scheduler:   scheduler,
		sender:      sender,
		logger:      logger,
		timers:      make(map[string]schedule.Handle),
	}
}

// HandleEvent is the event log listener. A closed submission cancels its
// pending deliveries; then any destination whose filter matches the event
// gets a delivery enqueued. Enqueueing is idempotent per
// (submission, destination URL, triggering event).
func (m *Manager) HandleEvent(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeSubmissionCancelled, event.TypeSubmissionExpired:
		m.cancelPending(ctx, evt.SubmissionID, evt.ID)
	}
	return m.enqueueMatching(ctx, evt)
}

func (m *Manager) enqueueMatching(ctx context.Context, evt *event.Event) error {
	sub, err := m.submissions.GetByID(ctx, evt.SubmissionID)
	if err != nil {
		return fmt.Errorf("enqueue for %s: %w", evt.SubmissionID, err)
	}
	if sub == nil {
		return fmt.Errorf("enqueue for %s: submission not found", evt.SubmissionID)
	}
	def, err := m.registry.Get(sub.IntakeID)
	if err != nil {
		return fmt.Errorf("enqueue for %s: %w", evt.SubmissionID, err)
	}

	for _, dest := range def.Destinations {
		if !dest.Triggers(string(evt.Type)) {
			continue
		}
		if err := dest.Validate(); err != nil {
			// Unrecoverable configuration: fail fast, never retry.
			m.logger.Error("Destination misconfigured, delivery skipped",
				"error", err,
				"submission_id", sub.ID,
				"url", dest.URL,
			)
			continue
		}
		if err := m.enqueue(ctx, evt, sub.ID, def.ID, dest); err != nil {
			m.logger.Error("Failed to enqueue delivery",
				"error", err,
				"submission_id", sub.ID,
				"url", dest.URL,
			)
		}
	}
	return nil
}

func (m *Manager) enqueue(ctx context.Context, evt *event.Event, submissionID, intakeID string, dest intake.Destination) error {
	existing, err := m.deliveries.GetByDedupeKey(ctx, submissionID, dest.URL, evt.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	sub, err := m.submissions.GetByID(ctx, submissionID)
	if err != nil || sub == nil {
		return fmt.Errorf("snapshot submission: %w", err)
	}

	id := "dl_" + uuid.NewString()
	payload, err := BuildPayload(id, evt, sub)
	if err != nil {
		return err
	}

	d := delivery.New(id, submissionID, intakeID, evt.ID, string(evt.Type), dest.URL, payload, m.scheduler.Now())
	if err := m.deliveries.Create(ctx, d); err != nil {
		return fmt.Errorf("persist delivery: %w", err)
	}

	m.logger.Info("Delivery enqueued",
		"delivery_id", d.ID,
		"submission_id", submissionID,
		"event_type", evt.Type,
		"url", dest.URL,
	)
	m.scheduleAttempt(d.ID, 0)
	return nil
}

// scheduleAttempt arms the timer for a delivery's next attempt.
func (m *Manager) scheduleAttempt(deliveryID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if old, ok := m.timers[deliveryID]; ok {
		old.Cancel()
	}
	m.timers[deliveryID] = m.scheduler.AfterFunc(delay, func() {
		if !m.begin() {
			return
		}
		defer m.wg.Done()
		m.attempt(deliveryID, 0)
	})
}

// begin registers a timer-fired task with the wait group unless the
// manager is already closed. Taking the lock orders the Add before any
// Wait in Close.
func (m *Manager) begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// attempt executes one dispatch. misses counts consecutive loads that saw
// no row yet: a delivery enqueued inside a still-open transaction becomes
// visible shortly after, so the attempt probes again instead of dying.
func (m *Manager) attempt(deliveryID string, misses int) {
	ctx := context.Background()

	m.mu.Lock()
	delete(m.timers, deliveryID)
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	d, err := m.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		m.logger.Error("Failed to load delivery", "error", err, "delivery_id", deliveryID)
		return
	}
	if d == nil {
		if misses < 3 {
			m.mu.Lock()
			if !m.closed {
				m.timers[deliveryID] = m.scheduler.AfterFunc(100*time.Millisecond, func() {
					if !m.begin() {
						return
					}
					defer m.wg.Done()
					m.attempt(deliveryID, misses+1)
				})
			}
			m.mu.Unlock()
			return
		}
		m.logger.Error("Delivery vanished before first attempt", "delivery_id", deliveryID)
		return
	}
	if d.State != delivery.StatePending {
		return
	}

	dest, ok := m.destinationFor(d)
	if !ok {
		now := m.scheduler.Now()
		d.LastError = "destination no longer configured"
		d.Settle(delivery.StateCancelled, now)
		if err := m.deliveries.Update(ctx, d); err != nil {
			m.logger.Error("Failed to settle orphaned delivery", "error", err, "delivery_id", d.ID)
		}
		return
	}

	m.dispatch(ctx, d, dest)
}

// dispatch performs one HTTP call and applies the outcome: 2xx settles as
// succeeded, any failure reschedules on the backoff ladder until the attempt
// budget is spent, then settles as failed. Exactly one lifecycle event is
// appended per attempt.
func (m *Manager) dispatch(ctx context.Context, d *delivery.Delivery, dest intake.Destination) {
	strategy := NewRetryStrategy(dest.Retry)
	now := m.scheduler.Now()

	req := &Request{
		URL:        d.URL,
		Body:       d.Payload,
		EventType:  d.EventType,
		DeliveryID: d.ID,
		Signer:     NewSigner(dest.Secret),
		Headers:    dest.Headers,
		Timestamp:  now.Unix(),
	}

	start := time.Now()
	status, sendErr := m.sender.Send(ctx, req)
	elapsed := time.Since(start)

	// A cancellation may have landed while the call was on the wire; a
	// settled delivery never leaves its terminal state.
	cur, err := m.deliveries.GetByID(ctx, d.ID)
	if err != nil {
		m.logger.Error("Failed to reload delivery after attempt", "error", err, "delivery_id", d.ID)
		return
	}
	if cur == nil || cur.State.IsFinal() {
		m.logger.Info("Attempt outcome discarded, delivery already settled",
			"delivery_id", d.ID,
			"status_code", status,
		)
		return
	}

	d.Attempts++
	d.LastStatusCode = status
	switch {
	case sendErr != nil:
		d.LastError = sendErr.Error()
	case status < 200 || status >= 300:
		d.LastError = fmt.Sprintf("http %d", status)
	default:
		d.LastError = ""
	}

	att := &delivery.Attempt{
		DeliveryID: d.ID,
		Number:     d.Attempts,
		At:         now,
		StatusCode: status,
		Duration:   elapsed,
	}
	if sendErr != nil {
		att.Error = sendErr.Error()
	}
	if err := m.deliveries.AppendAttempt(ctx, att); err != nil {
		m.logger.Error("Failed to record attempt", "error", err, "delivery_id", d.ID)
	}

	switch {
	case sendErr == nil && status >= 200 && status < 300:
		d.Settle(delivery.StateSucceeded, m.scheduler.Now())
		m.updateAndLog(ctx, d, "Delivery succeeded")
		m.appendDeliveryEvent(ctx, d, event.TypeDeliverySucceeded, map[string]any{
			"statusCode": status,
			"attempts":   d.Attempts,
		})

	case strategy.Exhausted(d.Attempts):
		d.Settle(delivery.StateFailed, m.scheduler.Now())
		m.updateAndLog(ctx, d, "Delivery failed permanently")
		m.appendDeliveryEvent(ctx, d, event.TypeDeliveryFailed, failurePayload(d))

	default:
		delay := strategy.Backoff(d.Attempts)
		next := m.scheduler.Now().Add(delay)
		d.Reschedule(next, m.scheduler.Now())
		m.updateAndLog(ctx, d, "Delivery attempt failed, rescheduled")
		m.appendDeliveryEvent(ctx, d, event.TypeDeliveryAttempted, failurePayload(d))
		m.scheduleAttempt(d.ID, delay)
	}
}

// failurePayload summarizes the failure so far for attempt/outcome events.
func failurePayload(d *delivery.Delivery) map[string]any {
	payload := map[string]any{"attempts": d.Attempts}
	if d.LastStatusCode > 0 {
		payload["statusCode"] = d.LastStatusCode
	}
	if d.LastError != "" {
		payload["error"] = d.LastError
	}
	return payload
}

func (m *Manager) updateAndLog(ctx context.Context, d *delivery.Delivery, msg string) {
	if err := m.deliveries.Update(ctx, d); err != nil {
		m.logger.Error("Failed to update delivery", "error", err, "delivery_id", d.ID)
		return
	}
	m.logger.Info(msg,
		"delivery_id", d.ID,
		"submission_id", d.SubmissionID,
		"state", d.State,
		"attempts", d.Attempts,
		"status_code", d.LastStatusCode,
	)
}

// appendDeliveryEvent records a delivery outcome in the submission's log.
// The submission state is read fresh so replay semantics hold.
func (m *Manager) appendDeliveryEvent(ctx context.Context, d *delivery.Delivery, t event.Type, payload map[string]any) {
	sub, err := m.submissions.GetByID(ctx, d.SubmissionID)
	if err != nil || sub == nil {
		m.logger.Error("Failed to load submission for delivery event", "error", err, "delivery_id", d.ID)
		return
	}
	payload["deliveryId"] = d.ID
	payload["url"] = d.URL
	evt := event.New(t, d.SubmissionID, submission.SystemActor(), sub.State, payload)
	if _, err := m.log.Append(ctx, evt); err != nil {
		m.logger.Error("Failed to append delivery event", "error", err, "delivery_id", d.ID)
	}
}

// cancelPending settles the submission's unsettled deliveries as cancelled.
// The delivery triggered by the closing event itself is spared so a
// destination subscribed to cancellations still hears about them.
func (m *Manager) cancelPending(ctx context.Context, submissionID, exceptEventID string) {
	list, err := m.deliveries.ListBySubmission(ctx, submissionID)
	if err != nil {
		m.logger.Error("Failed to list deliveries for cancellation", "error", err, "submission_id", submissionID)
		return
	}
	for _, d := range list {
		if d.State.IsFinal() || d.EventID == exceptEventID {
			continue
		}
		m.mu.Lock()
		if handle, ok := m.timers[d.ID]; ok {
			handle.Cancel()
			delete(m.timers, d.ID)
		}
		m.mu.Unlock()

		d.Settle(delivery.StateCancelled, m.scheduler.Now())
		if err := m.deliveries.Update(ctx, d); err != nil {
			m.logger.Error("Failed to cancel delivery", "error", err, "delivery_id", d.ID)
			continue
		}
		m.logger.Info("Delivery cancelled", "delivery_id", d.ID, "submission_id", submissionID)
	}
}

// Retry rewinds a permanently failed delivery and re-enters the backoff
// schedule from the first attempt.
func (m *Manager) Retry(ctx context.Context, deliveryID string) (*delivery.Delivery, error) {
	d, err := m.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrDeliveryNotFound)
	}
	if d.State != delivery.StateFailed {
		return nil, fmt.Errorf("delivery %s in state %s: %w", deliveryID, d.State, ErrNotRetryable)
	}

	d.ResetForRetry(m.scheduler.Now())
	if err := m.deliveries.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("reschedule delivery: %w", err)
	}

	m.logger.Info("Delivery manually retried", "delivery_id", d.ID)
	m.scheduleAttempt(d.ID, 0)
	return d, nil
}

// Get returns one delivery with its attempt history.
func (m *Manager) Get(ctx context.Context, deliveryID string) (*delivery.Delivery, []*delivery.Attempt, error) {
	d, err := m.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, nil, err
	}
	if d == nil {
		return nil, nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrDeliveryNotFound)
	}
	attempts, err := m.deliveries.ListAttempts(ctx, deliveryID)
	if err != nil {
		return nil, nil, err
	}
	return d, attempts, nil
}

// ListBySubmission returns the submission's deliveries.
func (m *Manager) ListBySubmission(ctx context.Context, submissionID string) ([]*delivery.Delivery, error) {
	return m.deliveries.ListBySubmission(ctx, submissionID)
}

// Restore re-arms timers for deliveries that were pending at shutdown.
// Overdue deliveries dispatch immediately.
func (m *Manager) Restore(ctx context.Context) error {
	pending, err := m.deliveries.ListScheduled(ctx, 0)
	if err != nil {
		return fmt.Errorf("restore deliveries: %w", err)
	}
	now := m.scheduler.Now()
	for _, d := range pending {
		delay := time.Duration(0)
		if d.NextAttemptAt != nil && d.NextAttemptAt.After(now) {
			delay = d.NextAttemptAt.Sub(now)
		}
		m.scheduleAttempt(d.ID, delay)
	}
	m.logger.Info("Deliveries restored", "pending_count", len(pending))
	return nil
}

// Close stops all timers and waits for in-flight attempts to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, handle := range m.timers {
		handle.Cancel()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) destinationFor(d *delivery.Delivery) (intake.Destination, bool) {
	def, err := m.registry.Get(d.IntakeID)
	if err != nil {
		return intake.Destination{}, false
	}
	for _, dest := range def.Destinations {
		if dest.URL == d.URL {
			return dest, true
		}
	}
	return intake.Destination{}, false
}
