package dispatch

import (
	"fmt"
	"strings"

	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
)

// PreconditionError means a required local input is missing. No request is
// sent when it is returned.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

var (
	ErrNoImage    = &PreconditionError{Reason: "no image loaded"}
	ErrNoQuestion = &PreconditionError{Reason: "no question"}
	ErrNoPrompt   = &PreconditionError{Reason: "no prompt"}
)

// HTTPError means the backend answered with a non-2xx status.
type HTTPError struct {
	Service domain.ServiceID
	Status  int
	// Message is the backend's {"error": "..."} text when it sent one.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
}

// NetworkError means the request never produced an HTTP response.
type NetworkError struct {
	Service  domain.ServiceID
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to reach %s at %s: %v", e.Service, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func RequireImage(img *imagesource.Image) error {
	if img == nil || len(img.Data) == 0 {
		return ErrNoImage
	}
	return nil
}

// RequireText trims s and returns missing when nothing is left.
func RequireText(s string, missing error) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing
	}
	return s, nil
}
