package realtime

// Frame types exchanged with relay clients.
const (
	FrameSubscribe  = "subscribe"
	FrameSubscribed = "subscribed"
	FrameEvent      = "event"
	FrameDropped    = "messages_dropped"
	FrameError      = "error"
)

// Frame is the JSON text frame of the relay protocol.
type Frame struct {
	Type    string            `json:"type"`
	Filter  *Filter           `json:"filter,omitempty"`
	Event   *Event            `json:"event,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}
