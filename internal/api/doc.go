// Package api exposes the HTTP interface of the progress gateway: the
// history recovery endpoint, the WebSocket mount, and service endpoints.
package api
