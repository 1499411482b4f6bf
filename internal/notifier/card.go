package notifier

import (
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
)

// reviewCard builds the interactive card shown to a reviewer when a gate
// starts waiting on them.
func reviewCard(req *port.ReviewRequest) map[string]interface{} {
	intakeName := req.IntakeName
	if intakeName == "" {
		intakeName = req.IntakeID
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag": "div",
			"fields": []map[string]interface{}{
				{
					"is_short": true,
					"text": map[string]interface{}{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**Intake**\n%s", intakeName),
					},
				},
				{
					"is_short": true,
					"text": map[string]interface{}{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**Gate**\n%s", req.Gate),
					},
				},
			},
		},
		map[string]interface{}{
			"tag": "hr",
		},
		map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**Approvals required:** %d\n**Fields submitted:** %d", req.Required, len(req.Fields)),
			},
		},
		map[string]interface{}{
			"tag": "note",
			"elements": []map[string]interface{}{
				{
					"tag":     "plain_text",
					"content": fmt.Sprintf("Submission: %s", req.SubmissionID),
				},
			},
		},
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": "blue",
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": "Review requested",
			},
		},
		"elements": elements,
	}
}

// escalationCard builds the card sent when a gate misses its escalation
// deadline without reaching quorum.
func escalationCard(notice *port.EscalationNotice) map[string]interface{} {
	elements := []interface{}{
		map[string]interface{}{
			"tag": "div",
			"fields": []map[string]interface{}{
				{
					"is_short": true,
					"text": map[string]interface{}{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**Gate**\n%s", notice.Gate),
					},
				},
				{
					"is_short": true,
					"text": map[string]interface{}{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**Approvals**\n%d of %d", notice.Approvals, notice.Required),
					},
				},
			},
		},
		map[string]interface{}{
			"tag": "note",
			"elements": []map[string]interface{}{
				{
					"tag":     "plain_text",
					"content": fmt.Sprintf("Submission: %s", notice.SubmissionID),
				},
			},
		},
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": "orange",
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": "Review overdue",
			},
		},
		"elements": elements,
	}
}
