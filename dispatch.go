package chatter

import (
	"fmt"
	"runtime/debug"
)

// HandlerError carries a panic recovered from a callback. Channel is empty
// for ready callbacks.
type HandlerError struct {
	Channel Channel
	Value   any
	Stack   []byte
}

func (e *HandlerError) Error() string {
	if e.Channel.Name == "" {
		return fmt.Sprintf("chatter: callback panic: %v", e.Value)
	}
	return fmt.Sprintf("chatter: callback panic in #%s: %v", e.Channel.Name, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *HandlerError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// dispatch runs the global handlers and then the channel's handlers against
// msg. Both lists are copied first, so handlers may join or leave freely; the
// change applies from the next message on. Unknown channels get only the
// global handlers.
func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	global := append([]Handler(nil), c.onMessage...)
	handlers := c.reg.handlers(msg.Channel.Name)
	c.mu.Unlock()

	c.metrics.message(msg.Channel.Name)
	for _, h := range global {
		c.invoke(msg.Channel, func() { h(msg) })
	}
	for _, h := range handlers {
		c.invoke(msg.Channel, func() { h(msg) })
	}
}

// invoke runs fn and turns a panic into a HandlerError for the error sinks.
func (c *Client) invoke(ch Channel, fn func()) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		c.metrics.handlerError()
		herr := &HandlerError{Channel: ch, Value: v, Stack: debug.Stack()}

		c.mu.Lock()
		sinks := append([]func(error){}, c.onError...)
		c.mu.Unlock()
		if len(sinks) == 0 {
			c.log.Error("callback panic", "channel", ch.Name, "panic", v)
			return
		}
		for _, sink := range sinks {
			c.report(sink, herr)
		}
	}()
	fn()
}

// report hands err to sink. A panicking sink is logged and otherwise ignored.
func (c *Client) report(sink func(error), err *HandlerError) {
	defer func() {
		if v := recover(); v != nil {
			c.log.Error("error sink panic", "panic", v, "error", err)
		}
	}()
	sink(err)
}
