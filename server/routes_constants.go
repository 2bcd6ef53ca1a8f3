package server

// Route path constants
const (
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Per-session routes; {type} is main, seller or admin
	RouteSession        = "/sessions/{type}"
	RouteSessionSignIn  = "/sessions/{type}/signin"
	RouteSessionSignOut = "/sessions/{type}/signout"
	RouteSessionToken   = "/sessions/{type}/token"
	RouteSessionProfile = "/sessions/{type}/profile/refresh"
	RouteSessionList    = "/sessions"
)
