// Package ws is the terminal session bridge: it binds a local terminal view
// to the platform's terminal stream for one running instance.
//
// The package implements:
//   - Bridge: owns one stream connection and relays frames in both directions
//   - State: the connection state machine (connecting, open, reconnecting, closed)
//   - ReconnectPolicy: bounded exponential backoff after an abnormal drop
//   - StreamURL: the stream endpoint for an (instance, token) pair
//
// Inbound frames are delivered to the view in arrival order, one view write
// per frame. Each view input event becomes exactly one outbound message.
// Transport failures are reported as state changes, never as errors from Send.
package ws
