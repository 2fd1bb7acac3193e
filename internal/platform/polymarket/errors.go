package polymarket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// HTTPError is a non-2xx response from a Polymarket API.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

func (e *HTTPError) Unwrap() error { return e.Err }

// checkHTTPStatus maps non-2xx responses to an HTTPError wrapping the
// matching domain error.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	e := &HTTPError{StatusCode: statusCode, Body: body}
	switch {
	case statusCode == http.StatusNotFound:
		e.Err = domain.ErrNotFound
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		e.Err = domain.ErrUnauthorized
	case statusCode == http.StatusTooManyRequests:
		e.Err = domain.ErrRateLimited
	case statusCode >= 500:
		e.Err = domain.ErrNetwork
	}
	return e
}

// messagePatterns maps exchange error text to a kind, checked in order.
var messagePatterns = []struct {
	kind    domain.ErrorKind
	needles []string
}{
	{domain.ErrorKindFunds, []string{"not enough balance", "insufficient balance", "allowance", "insufficient funds"}},
	// Minimum-size rejections also start with "invalid amount", so size wins.
	{domain.ErrorKindSize, []string{"lower than the minimum", "min size", "minimum order", "size too small", "below minimum"}},
	{domain.ErrorKindPrecision, []string{"max accuracy", "decimal", "precision"}},
	{domain.ErrorKindRateLimit, []string{"rate limit", "too many requests", "429"}},
	{domain.ErrorKindNetwork, []string{"timeout", "timed out", "econnreset", "connection reset", "connection refused", "network", "socket hang up", "eof", "502", "503", "504"}},
}

// ClassifyMessage maps free-form exchange error text to an ErrorKind.
func ClassifyMessage(msg string) domain.ErrorKind {
	if strings.TrimSpace(msg) == "" {
		return domain.ErrorKindUnknown
	}
	lower := strings.ToLower(msg)
	for _, p := range messagePatterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.kind
			}
		}
	}
	return domain.ErrorKindUnknown
}

// ClassifyError resolves a client error to an ErrorKind, preferring typed
// errors and falling back to the message text.
func ClassifyError(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindNone
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Err == nil {
		return ClassifyMessage(string(httpErr.Body))
	}
	if kind := domain.KindOf(err); kind != domain.ErrorKindUnknown {
		return kind
	}
	return ClassifyMessage(err.Error())
}
