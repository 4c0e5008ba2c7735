package httpserver

const (
	ErrInvalidJSON  = "invalid json"
	ErrMissingID    = "missing id"
	ErrUnauthorized = "missing account identity"
	ErrDependency   = "dependency error"
	ErrNotFound     = "not found"
)
