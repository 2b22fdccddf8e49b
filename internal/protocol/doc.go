// Package protocol defines the WebSocket wire protocol for audio
// sessions. It handles parsing and validation of inbound control
// messages as a closed set of actions, and the outbound event
// envelopes pushed back to clients.
package protocol
