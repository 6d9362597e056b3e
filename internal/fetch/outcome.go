package fetch

import (
	"net/http"
	"time"
)

// Kind classifies a completed HTTP exchange
type Kind int

const (
	// Success is a 200 with the full body read
	Success Kind = iota
	// NotFound is a 404; the unit does not exist at this scope
	NotFound
	// RateLimited is a 429 that persisted through the single Retry-After wait
	RateLimited
	// ServerError is any other non-200 status
	ServerError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case ServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Fetch call
type Outcome struct {
	Kind       Kind
	StatusCode int
	Header     http.Header
	Body       []byte        // full body on Success, a snippet otherwise
	RetryAfter time.Duration // last server-requested wait, RateLimited only
	Method     string
	URL        string
}

// Err converts RateLimited and ServerError outcomes into a *StatusError.
// Success and NotFound return nil.
func (o *Outcome) Err() error {
	switch o.Kind {
	case RateLimited, ServerError:
		return &StatusError{
			Method:     o.Method,
			URL:        o.URL,
			StatusCode: o.StatusCode,
			Body:       string(o.Body),
			RetryAfter: o.RetryAfter,
		}
	}
	return nil
}
