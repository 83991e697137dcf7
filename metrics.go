package chatter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/twitchchatter/chatter-go/wire"
)

// Metrics counts client traffic. A nil *Metrics records nothing.
type Metrics struct {
	Lines         *prometheus.CounterVec // inbound lines by kind
	Messages      *prometheus.CounterVec // dispatched chat messages by channel
	Commands      *prometheus.CounterVec // outbound lines by command
	HandlerErrors prometheus.Counter     // recovered callback panics
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatter_lines_total",
			Help: "Inbound IRC lines by kind (ping, privmsg, other)",
		}, []string{"kind"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatter_messages_total",
			Help: "Chat messages dispatched, by channel",
		}, []string{"channel"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatter_commands_total",
			Help: "Outbound IRC commands written, by command",
		}, []string{"command"}),
		HandlerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chatter_handler_errors_total",
			Help: "Panics recovered from callbacks",
		}),
	}
}

func (m *Metrics) line(kind wire.Kind) {
	if m != nil {
		m.Lines.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) message(channel string) {
	if m != nil {
		m.Messages.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) command(command string) {
	if m != nil {
		m.Commands.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) handlerError() {
	if m != nil {
		m.HandlerErrors.Inc()
	}
}
