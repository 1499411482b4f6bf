package export

import (
	"context"
	"testing"
	"time"

	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeSource struct {
	subs      []*submission.Submission
	histories map[string][]*event.Event
}

func (f *fakeSource) List(ctx context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error) {
	return f.subs, nil
}

func (f *fakeSource) History(ctx context.Context, submissionID string) ([]*event.Event, error) {
	return f.histories[submissionID], nil
}

func TestAuditWorkbook(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	actor := submission.Actor{Kind: submission.ActorAgent, ID: "agent-7"}

	sub := submission.New("sub_1", "vendor-onboarding", actor, created)
	sub.ResumeToken = "secret-token"
	sub.SetField("company.name", "Acme", actor)
	sub.Version = 2

	evts := []*event.Event{
		{ID: "evt_1", SubmissionID: "sub_1", Type: event.TypeSubmissionCreated, Timestamp: created,
			Actor: actor, State: submission.StateDraft, Version: 1},
		{ID: "evt_2", SubmissionID: "sub_1", Type: event.TypeFieldUpdated, Timestamp: created.Add(time.Minute),
			Actor: actor, State: submission.StateDraft, Version: 2,
			Payload: map[string]any{"fieldPaths": []string{"company.name"}}},
	}

	source := &fakeSource{
		subs:      []*submission.Submission{sub},
		histories: map[string][]*event.Event{"sub_1": evts},
	}

	exporter := NewExporter(source, zap.NewNop())
	buf, err := exporter.AuditWorkbook(context.Background(), "vendor-onboarding")
	require.NoError(t, err)
	require.NotZero(t, buf.Len())

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Submissions", "Events"}, f.GetSheetList())

	rows, err := f.GetRows("Submissions")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Submission ID", rows[0][0])
	assert.Equal(t, "sub_1", rows[1][0])
	assert.Equal(t, "vendor-onboarding", rows[1][1])
	assert.Equal(t, "draft", rows[1][2])
	assert.Equal(t, "agent:agent-7", rows[1][6])

	// The resume token must not leak into any cell.
	for _, row := range rows {
		for _, cell := range row {
			assert.NotContains(t, cell, "secret-token")
		}
	}

	eventRows, err := f.GetRows("Events")
	require.NoError(t, err)
	require.Len(t, eventRows, 3)
	assert.Equal(t, "submission.created", eventRows[1][3])
	assert.Equal(t, "1", eventRows[1][1])
	assert.Equal(t, "2", eventRows[2][1])
	assert.Contains(t, eventRows[2][7], "company.name")
}

func TestAuditWorkbookEmptyIntake(t *testing.T) {
	exporter := NewExporter(&fakeSource{}, zap.NewNop())

	buf, err := exporter.AuditWorkbook(context.Background(), "empty")
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Submissions")
	require.NoError(t, err)
	assert.Len(t, rows, 1) // headers only
}
