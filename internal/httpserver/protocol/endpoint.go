// Package protocol describes the route groups the HTTP server mounts.
package protocol

import "net/http"

// EndpointRoute binds one method and chi path pattern to a handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint is a named group of routes that can be switched on per deployment.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
