package tasks

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// SlackNotifier posts an operator-facing alert to a fixed ops channel
// when a prospective task goes stale, mirroring the teacher's
// slack-go/slack remediation-notification delivery pattern adapted from
// cluster alerts to overdue reminders.
type SlackNotifier struct {
	Client  *slack.Client
	Channel string
}

// NewSlackNotifier builds a notifier from a bot token; pass the same
// token source the app container already validates at startup.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{Client: slack.New(token), Channel: channel}
}

// NotifyOverdue posts a best-effort message; delivery failure here never
// blocks the observer loop since RecordNotification already persisted
// the durable notification row.
func (n *SlackNotifier) NotifyOverdue(ctx context.Context, userID string, task model.ProspectiveTask) error {
	if n.Client == nil || n.Channel == "" {
		return nil
	}
	text := fmt.Sprintf(":alarm_clock: kullanıcı `%s` için uzun süredir bekleyen görev: \"%s\"", userID, task.RawText)
	_, _, err := n.Client.PostMessageContext(ctx, n.Channel, slack.MsgOptionText(text, false))
	return err
}
