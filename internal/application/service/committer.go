package service

import (
	"context"
	"fmt"
	"time"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/submission"
)

// committer persists a submission together with its new events in one
// transaction. Shared by the submission and approval services so both
// keep the stored state aligned with the log.
type committer struct {
	submissionRepo port.SubmissionRepository
	log            *eventlog.Log
	txManager      port.TransactionManager

	now func() time.Time
}

// commit appends events and persists the submission atomically. The row is
// written before the first append because listeners fire synchronously
// inside each append and read the submission through the repository; a
// second write records the advanced Version once the events have landed.
func (c *committer) commit(ctx context.Context, sub *submission.Submission, isNew bool, events ...*event.Event) error {
	return c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		sub.UpdatedAt = c.now()
		if isNew {
			if err := c.submissionRepo.Create(txCtx, sub); err != nil {
				return fmt.Errorf("create submission: %w", err)
			}
		} else {
			if err := c.submissionRepo.Update(txCtx, sub); err != nil {
				return fmt.Errorf("update submission: %w", err)
			}
		}
		for _, evt := range events {
			appended, err := c.log.Append(txCtx, evt)
			if err != nil {
				return err
			}
			sub.Version = appended.Version
		}
		if len(events) == 0 {
			return nil
		}
		if err := c.submissionRepo.Update(txCtx, sub); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		return nil
	})
}

// load fetches a submission, translating a missing row into ErrNotFound.
func (c *committer) load(ctx context.Context, id string) (*submission.Submission, error) {
	sub, err := c.submissionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load submission %s: %w", id, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", id, submission.ErrNotFound)
	}
	return sub, nil
}
