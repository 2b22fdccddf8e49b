// Package session implements the core of the live transcription
// pipeline: per-client recording sessions with their state machine and
// segment log, the transcription worker that flushes buffered audio to
// the external engine, and the concurrency-safe registry owning all
// active sessions.
package session
