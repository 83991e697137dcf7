package chatter

import "github.com/twitchchatter/chatter-go/wire"

// Channel is a chat room, or a user handle, identified by its normalized
// (lowercase, no '#') name. Channels produced by a Client can join and leave
// through it; a Channel built with NewChannel cannot.
//
// Compare channels with Equal. A Channel carries its owning client, so == and
// reflect.DeepEqual also compare the client and report a bound and a
// standalone channel of the same name as different.
type Channel struct {
	Name string

	client *Client
}

// NewChannel returns a standalone channel named name.
func NewChannel(name string) Channel {
	return Channel{Name: wire.NormalizeChannel(name)}
}

// String returns the bare channel name.
func (ch Channel) String() string { return ch.Name }

// Equal reports whether two channels have the same normalized name.
func (ch Channel) Equal(other Channel) bool { return ch.Name == other.Name }

// Is reports whether ch is the channel called name.
func (ch Channel) Is(name string) bool { return ch.Name == wire.NormalizeChannel(name) }

// Join subscribes handler to this channel on the owning client.
func (ch Channel) Join(handler Handler) error {
	if ch.client == nil {
		return ErrNoConnection
	}
	return ch.client.Join(ch.Name, handler)
}

// Leave unsubscribes the owning client from this channel.
func (ch Channel) Leave() error {
	if ch.client == nil {
		return ErrNoConnection
	}
	return ch.client.Leave(ch.Name)
}
