package http

// State is the lifecycle state of a connection.
type State uint8

const (
	StateReadingHead State = iota
	StateStreamingBody
	StateAwaitingResponse
	StateWritingResponse
	StateUpgraded
	StateHandedOff
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateReadingHead:      "reading-head",
	StateStreamingBody:    "streaming-body",
	StateAwaitingResponse: "awaiting-response",
	StateWritingResponse:  "writing-response",
	StateUpgraded:         "upgraded",
	StateHandedOff:        "handed-off",
	StateClosing:          "closing",
	StateClosed:           "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether HTTP/1.x framing has ended for good.
func (s State) Terminal() bool {
	return s == StateUpgraded || s == StateHandedOff || s == StateClosed
}

// Event drives a state transition.
type Event uint8

const (
	EvHead            Event = iota // a request head was decoded
	EvBodyDone                     // the request body was fully received
	EvBodyAbandoned                // the request body will not be read to its end
	EvWriteStarted                 // a final response started writing
	EvResponseWritten              // a final response was fully written
	EvDecodeError                  // the peer sent something invalid
	EvWriteError                   // writing to the peer failed
	EvTransportError               // reading from the peer failed
	EvTimeout                      // a read deadline expired
	EvPeerClosed                   // the peer closed between messages
	EvH2Preface                    // the peer opened with the HTTP/2 preface
	EvCancel                       // the server is shutting down
	EvIdleClose                    // the server asked an idle connection to close
	EvClosed                       // the socket was closed
)

var eventNames = [...]string{
	EvHead:            "head",
	EvBodyDone:        "body-done",
	EvBodyAbandoned:   "body-abandoned",
	EvWriteStarted:    "write-started",
	EvResponseWritten: "response-written",
	EvDecodeError:     "decode-error",
	EvWriteError:      "write-error",
	EvTransportError:  "transport-error",
	EvTimeout:         "timeout",
	EvPeerClosed:      "peer-closed",
	EvH2Preface:       "h2-preface",
	EvCancel:          "cancel",
	EvIdleClose:       "idle-close",
	EvClosed:          "closed",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// conditions carries the facts a transition depends on besides the event.
type conditions struct {
	keepAlive bool // the connection may carry another transaction
	upgrade   bool // the transaction switches protocols
	pending   bool // other responses are still queued
}

// transition is the connection state machine. It has no side effects.
func transition(s State, ev Event, c conditions) State {
	if s.Terminal() {
		return s
	}
	if s == StateClosing {
		if ev == EvClosed {
			return StateClosed
		}
		return s
	}
	switch ev {
	case EvWriteError, EvTransportError, EvCancel:
		return StateClosing
	case EvClosed:
		return StateClosed
	}

	switch s {
	case StateReadingHead:
		switch ev {
		case EvHead:
			return StateStreamingBody
		case EvH2Preface:
			return StateHandedOff
		case EvDecodeError, EvTimeout, EvPeerClosed, EvIdleClose:
			if c.pending {
				return StateAwaitingResponse
			}
			return StateClosing
		case EvResponseWritten:
			if !c.keepAlive {
				return StateClosing
			}
		}

	case StateStreamingBody:
		switch ev {
		case EvBodyDone:
			if c.keepAlive && !c.upgrade {
				return StateReadingHead
			}
			return StateAwaitingResponse
		case EvBodyAbandoned:
			if c.pending {
				return StateAwaitingResponse
			}
			return StateClosing
		case EvDecodeError, EvTimeout, EvPeerClosed:
			return StateClosing
		case EvResponseWritten:
			if !c.keepAlive {
				return StateClosing
			}
		}

	case StateAwaitingResponse:
		switch ev {
		case EvWriteStarted:
			if !c.pending {
				return StateWritingResponse
			}
		case EvResponseWritten:
			return afterWrite(c)
		}

	case StateWritingResponse:
		if ev == EvResponseWritten {
			return afterWrite(c)
		}
	}
	return s
}

func afterWrite(c conditions) State {
	switch {
	case !c.keepAlive:
		return StateClosing
	case c.upgrade:
		return StateUpgraded
	case c.pending:
		return StateAwaitingResponse
	default:
		return StateReadingHead
	}
}
