package wire

import (
	"errors"
	"strings"
)

// ErrNotChatLine is returned by Parse for any line that is not a well formed
// PRIVMSG. Callers drop such lines.
var ErrNotChatLine = errors.New("wire: not a chat line")

// Privmsg is a decoded PRIVMSG line. Sender and Channel are taken verbatim from
// the line (no normalization), Content has the envelope and line terminator
// stripped.
type Privmsg struct {
	Sender  string
	Channel string
	Content string
}

// Parse decodes a single PRIVMSG line.
//
// Token layout (whitespace separated):
//
//	[0] :nick!user@host
//	[1] PRIVMSG
//	[2] #channel
//	[3:] :content
//
// Content is everything after the third separator with one leading ':' removed,
// so inner spacing is preserved.
func Parse(raw string) (Privmsg, error) {
	line := strings.TrimRight(raw, "\r\n")

	prefix, rest, ok := cutToken(line)
	if !ok || len(prefix) < 2 || prefix[0] != ':' {
		return Privmsg{}, ErrNotChatLine
	}
	verb, rest, ok := cutToken(rest)
	if !ok || verb != PrivmsgVerb {
		return Privmsg{}, ErrNotChatLine
	}
	target, rest, ok := cutToken(rest)
	if !ok || len(target) < 2 || !strings.HasPrefix(target, ChannelSigil) {
		return Privmsg{}, ErrNotChatLine
	}
	content := strings.TrimLeft(rest, " \t")
	if content == "" {
		return Privmsg{}, ErrNotChatLine
	}

	sender := prefix[1:]
	if i := strings.IndexByte(sender, '!'); i >= 0 {
		sender = sender[:i]
	}
	if sender == "" {
		return Privmsg{}, ErrNotChatLine
	}

	return Privmsg{
		Sender:  sender,
		Channel: target[1:],
		Content: strings.TrimPrefix(content, ":"),
	}, nil
}

// cutToken splits s at the first run of spaces or tabs after skipping leading
// ones. ok is false when no further token follows.
func cutToken(s string) (token, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i:], true
}
