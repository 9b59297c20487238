// Package discord delivers moderation notifications to a guild's Discord
// channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Session is the slice of the Discord API the notifier needs. Satisfied by
// *discordgo.Session.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Session = (*discordgo.Session)(nil)

// Notifier posts moderation messages to Discord channels. It implements the
// pipeline's Notifier contract.
type Notifier struct {
	session Session
}

// NewNotifier creates a [Notifier] on an opened session.
func NewNotifier(session Session) *Notifier {
	return &Notifier{session: session}
}

// Notify posts the message to the channel. The Discord client has no
// context-aware send, so ctx is only checked up front.
func (n *Notifier) Notify(ctx context.Context, channelID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.session.ChannelMessageSend(channelID, message); err != nil {
		return fmt.Errorf("discord: send to channel %q: %w", channelID, err)
	}
	return nil
}
