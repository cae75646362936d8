package delivery

import (
	"fmt"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of the Slack client the channel uses, extracted so
// tests can substitute a fake.
type slackPoster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel posts alert notifications to a Slack channel
type SlackChannel struct {
	client    slackPoster
	channelID string
}

// NewSlackChannel creates a Slack delivery channel from a bot token and a
// target channel ID
func NewSlackChannel(botToken, channelID string) *SlackChannel {
	return &SlackChannel{
		client:    slack.New(botToken),
		channelID: channelID,
	}
}

// Key returns the channel key
func (c *SlackChannel) Key() string {
	return "slack"
}

// Send posts the notification as a Slack message
func (c *SlackChannel) Send(n Notification) error {
	_, _, err := c.client.PostMessage(
		c.channelID,
		slack.MsgOptionText(FormatNotification(n), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to Slack channel %s: %w", c.channelID, err)
	}
	return nil
}
