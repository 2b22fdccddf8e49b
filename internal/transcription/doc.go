// Package transcription defines the external speech-to-text
// collaborator contract and its HTTP implementation. The client
// uploads WAV chunks as multipart form data, retries retryable
// failures with exponential backoff, and limits concurrent requests.
// The engine itself is treated as a black box: slow, fallible, and
// untrusted.
package transcription
