package websocket

import "context"

// HandlerFunc processes one inbound frame and returns the reply frame, or
// nil when the action produces no direct reply.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Dispatcher routes inbound frames by action name. All registration happens
// during startup, before the first connection is accepted, so the map needs
// no locking at dispatch time.
type Dispatcher struct {
	actions map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{actions: make(map[string]HandlerFunc)}
}

// RegisterFunc installs fn as the handler for action, replacing any
// previous registration.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.actions[action] = fn
}

// Dispatch routes one frame. An unknown action comes back as an error frame
// rather than a Go error so the client can see what it got wrong.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	fn, ok := d.actions[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}
	return fn(ctx, msg)
}
