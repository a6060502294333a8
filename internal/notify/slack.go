package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/slack-go/slack"
)

const slackTimeout = 10 * time.Second

// Slack posts rate limit alerts and run completion to an incoming webhook.
// Per-job results are not forwarded.
type Slack struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

func (s *Slack) JobResult(ResultEvent) {}

func (s *Slack) RateLimited(e RateLimitEvent) {
	text := fmt.Sprintf("Rate limit detected while blocking @%s. All processing stopped, resume manually.", e.Username)
	detail := e.Error
	if e.Code != "" {
		detail = fmt.Sprintf("%s (code %s)", detail, e.Code)
	}
	s.send(":no_entry: *Rate limited*", text, detail)
}

func (s *Slack) AllComplete() {
	s.send(":white_check_mark: *Blocking complete*", "All queued accounts have been processed.", "")
}

func (s *Slack) send(title, message, detail string) {
	if s.webhookURL == "" {
		return
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", title, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", message, false, false), nil, nil),
	}
	if detail != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", detail, false, false),
		))
	}

	msg := &slack.WebhookMessage{
		Text:   message,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), slackTimeout)
		defer cancel()
		if err := s.post(ctx, s.webhookURL, msg); err != nil {
			logger.Warn("Failed to post Slack notification: %v", err)
		}
	}()
}
