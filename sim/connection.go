package sim

// SendError marks a failure to send or deliver a message.
type SendError struct {
}

// NewSendError creates a SendError.
func NewSendError() *SendError {
	return &SendError{}
}

// A Connection is responsible for delivering messages to its destination.
type Connection interface {
	Named
	Hookable

	// PlugIn connects a port to the connection.
	PlugIn(port Port)

	// Unplug removes a port from the connection.
	Unplug(port Port)

	// NotifyAvailable is called by a port to notify that the port can receive
	// messages again.
	NotifyAvailable(port Port)

	// NotifySend is called by a port to notify that the port has something to
	// send.
	NotifySend()
}
