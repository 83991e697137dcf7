package chatter

import (
	"slices"
	"sync"

	"github.com/twitchchatter/chatter-go/wire"
)

// Handler is a callback for received chat messages.
type Handler func(*Message)

// Message is one chat line posted to a channel. It is immutable once built;
// Mentions and Links are computed on first use.
type Message struct {
	Sender  Channel // author
	Channel Channel // room the message was posted to
	Content string  // text after the protocol envelope
	Raw     string  // line as received

	mentionsOnce sync.Once
	mentions     []Channel
	linksOnce    sync.Once
	links        []string
}

// ParseMessage builds a standalone Message from a raw PRIVMSG line. Lines that
// are not chat messages return wire.ErrNotChatLine.
func ParseMessage(raw string) (*Message, error) {
	return parseMessage(raw, nil)
}

func parseMessage(raw string, c *Client) (*Message, error) {
	pm, err := wire.Parse(raw)
	if err != nil {
		return nil, err
	}
	ch := NewChannel(pm.Channel)
	ch.client = c
	return &Message{
		Sender:  NewChannel(pm.Sender),
		Channel: ch,
		Content: pm.Content,
		Raw:     raw,
	}, nil
}

// Mentions returns the users @-mentioned in the content, in order, duplicates
// included. The slice is a fresh copy.
func (m *Message) Mentions() []Channel {
	m.mentionsOnce.Do(func() {
		for _, name := range wire.Mentions(m.Content) {
			ch := NewChannel(name)
			ch.client = m.Channel.client
			m.mentions = append(m.mentions, ch)
		}
	})
	return slices.Clone(m.mentions)
}

// Links returns the http(s) URLs in the content, in order, duplicates included.
// The slice is a fresh copy.
func (m *Message) Links() []string {
	m.linksOnce.Do(func() {
		m.links = wire.Links(m.Content)
	})
	return slices.Clone(m.links)
}

// String returns the message content.
func (m *Message) String() string { return m.Content }
