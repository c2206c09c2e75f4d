package middleware

// Hooks into the Prometheus collector. Each is optional; nil disables counting.

type AuthObserver interface {
	AuthFailure(surface string)
}

type RateObserver interface {
	RateLimited(scope string)
}

type HTTPObserver interface {
	HTTPRequest(route, method, code string)
}
