package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouteMatcher maps a request to a low cardinality route label, for metrics and span names
type RouteMatcher interface {
	Match(r *http.Request) string
}

// UnmatchedRoute is the label of requests no route matches
const UnmatchedRoute = "unmatched"

// MuxRouteMatcher labels requests with the gorilla/mux route they match
type MuxRouteMatcher struct {
	Router *mux.Router
}

// Match returns the name of the matched route, or its path template when it has no name
func (m *MuxRouteMatcher) Match(r *http.Request) string {
	var match mux.RouteMatch

	// Route is nil when only the NotFoundHandler matched
	if !m.Router.Match(r, &match) || match.Route == nil {
		return UnmatchedRoute
	}

	if name := match.Route.GetName(); name != "" {
		return name
	}

	if template, err := match.Route.GetPathTemplate(); err == nil {
		return template
	}

	return UnmatchedRoute
}
