// Package wire implements the subset of the Twitch IRC line protocol spoken by
// the chatter client: classifying inbound lines, decoding PRIVMSG lines, and
// building the outbound command lines.
//
// Inbound shapes understood:
//
//	PING :tmi.twitch.tv
//	:<nick>!<user>@<host> PRIVMSG #<channel> :<content>
//
// Everything else is classified as KindOther and is not decoded.
package wire

import "strings"

// Protocol keywords.
const (
	PingKeyword  = "PING"
	PongKeyword  = "PONG"
	PrivmsgVerb  = "PRIVMSG"
	NickCommand  = "NICK"
	JoinCommand  = "JOIN"
	PartCommand  = "PART"
	ServerHost   = "tmi.twitch.tv"
	ChannelSigil = "#"
)

// Kind classifies a raw inbound line.
type Kind uint8

const (
	KindOther Kind = iota
	KindPing
	KindPrivmsg
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPrivmsg:
		return "privmsg"
	default:
		return "other"
	}
}

// Classify reports which of the understood shapes raw looks like. It does not
// validate PRIVMSG lines; Parse does that.
func Classify(raw string) Kind {
	switch {
	case strings.HasPrefix(raw, PingKeyword):
		return KindPing
	case strings.Contains(raw, PrivmsgVerb):
		return KindPrivmsg
	default:
		return KindOther
	}
}

// Nick is the anonymous authentication line.
func Nick(identity string) string { return NickCommand + " " + identity }

// Join subscribes to a channel's chat.
func Join(channel string) string { return JoinCommand + " " + ChannelSigil + channel }

// Part unsubscribes from a channel's chat.
func Part(channel string) string { return PartCommand + " " + ChannelSigil + channel }

// Pong answers a server PING.
func Pong() string { return PongKeyword + " :" + ServerHost }

// NormalizeChannel lowercases a channel or user handle and strips a leading '#'.
func NormalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, ChannelSigil)
	return strings.ToLower(name)
}
