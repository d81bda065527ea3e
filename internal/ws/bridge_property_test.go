package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any sequence of frames the remote sends, the view sees the same
// sequence: one write per frame, same order, same bytes, same kind.
func TestInboundOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	parameters.MaxSize = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("view receives frames in arrival order", prop.ForAll(
		func(payloads []string, kinds []bool) bool {
			srv := newStreamServer(t)
			view := newFakeView()
			b := startBridge(t, srv, view, nil, ReconnectPolicy{})
			defer b.Close()

			conn := srv.nextConn(t)
			waitState(t, b, StateOpen)

			sent := make([]Frame, len(payloads))
			for i, p := range payloads {
				binary := i < len(kinds) && kinds[i]
				messageType := websocket.TextMessage
				if binary {
					messageType = websocket.BinaryMessage
				}
				if err := conn.WriteMessage(messageType, []byte(p)); err != nil {
					return false
				}
				sent[i] = Frame{Binary: binary, Data: []byte(p)}
			}

			waitFor(t, "all frames", func() bool { return len(view.Frames()) == len(sent) })

			got := view.Frames()
			for i := range sent {
				if got[i].Binary != sent[i].Binary || string(got[i].Data) != string(sent[i].Data) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// For any sequence of input events, the remote receives exactly one message
// per event, in order, with nothing coalesced.
func TestOutboundOneMessagePerEventProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	parameters.MaxSize = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("each input event is one outbound message", prop.ForAll(
		func(events []string) bool {
			srv := newStreamServer(t)
			view := newFakeView()
			b := startBridge(t, srv, view, nil, ReconnectPolicy{})
			defer b.Close()

			srv.nextConn(t)
			waitState(t, b, StateOpen)

			for _, e := range events {
				view.emit(e)
			}

			for _, want := range events {
				select {
				case f := <-srv.received:
					if f.Binary || string(f.Data) != want {
						return false
					}
				case <-time.After(2 * time.Second):
					return false
				}
			}

			select {
			case <-srv.received:
				return false
			case <-time.After(10 * time.Millisecond):
				return true
			}
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
