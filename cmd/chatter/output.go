package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	chatter "github.com/twitchchatter/chatter-go"
)

// printer writes chat messages as "#channel sender: content" lines, optionally
// followed by the mentions and links found in them.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	mentions bool
	links    bool
}

func (p *printer) handle(m *chatter.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s %s: %s\n", m.Channel, m.Sender, m.Content)
	if p.mentions {
		if ms := m.Mentions(); len(ms) > 0 {
			names := make([]string, len(ms))
			for i, ch := range ms {
				names[i] = ch.Name
			}
			fmt.Fprintf(&b, "  mentions: %s\n", strings.Join(names, ", "))
		}
	}
	if p.links {
		if ls := m.Links(); len(ls) > 0 {
			fmt.Fprintf(&b, "  links: %s\n", strings.Join(ls, " "))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, b.String())
}
