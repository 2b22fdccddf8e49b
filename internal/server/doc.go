// Package server exposes the service over HTTP: the session lifecycle
// REST API, the /ws/audio/{id} streaming gateway, and the health,
// stats and Prometheus metrics endpoints.
package server
