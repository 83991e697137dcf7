package chatter

// registry tracks per-channel subscriptions. It is not safe for concurrent use;
// Client guards it with its mutex.
//
// A channel name is either unknown, pending (requested before the connection
// was ready) or present in entries. Leaving keeps the entry but empties it.
type registry struct {
	entries map[string]*entry
	order   []string // entry names in first-join order

	pending []pendingJoin // in request order
}

type entry struct {
	joined   bool
	handlers []Handler
}

type pendingJoin struct {
	name    string
	handler Handler
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// enqueue records a join requested before the connection was ready.
func (r *registry) enqueue(name string, h Handler) {
	r.pending = append(r.pending, pendingJoin{name: name, handler: h})
}

// resolve moves every pending join into entries and returns the affected
// channel names in the order they were first requested. Handlers keep their
// registration order within each channel.
func (r *registry) resolve() []string {
	var names []string
	seen := make(map[string]bool, len(r.pending))
	for _, p := range r.pending {
		r.join(p.name, p.handler)
		if !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
	}
	r.pending = nil
	return names
}

// join marks name joined and appends h when non-nil.
func (r *registry) join(name string, h Handler) {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{}
		r.entries[name] = e
		r.order = append(r.order, name)
	}
	e.joined = true
	if h != nil {
		e.handlers = append(e.handlers, h)
	}
}

// leave empties name's handler list. Unknown names stay unknown.
func (r *registry) leave(name string) {
	if e, ok := r.entries[name]; ok {
		e.joined = false
		e.handlers = nil
	}
}

// handlers returns a copy of name's handler list, nil for unknown channels.
func (r *registry) handlers(name string) []Handler {
	e, ok := r.entries[name]
	if !ok || len(e.handlers) == 0 {
		return nil
	}
	return append([]Handler(nil), e.handlers...)
}

func (r *registry) joined(name string) bool {
	e, ok := r.entries[name]
	return ok && e.joined
}

func (r *registry) pendingNames() []string {
	var names []string
	seen := make(map[string]bool, len(r.pending))
	for _, p := range r.pending {
		if !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
	}
	return names
}

func (r *registry) names() []string {
	return append([]string(nil), r.order...)
}
