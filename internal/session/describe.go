package session

import (
	"errors"
	"fmt"

	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/registry"
)

// Describe turns err into the text of a user-facing notice.
func Describe(err error, reg *registry.Registry) string {
	var (
		precondition *dispatch.PreconditionError
		httpErr      *dispatch.HTTPError
		netErr       *dispatch.NetworkError
		notSelected  *NotSelectedError
	)
	switch {
	case errors.Is(err, dispatch.ErrNoImage):
		return "Please load an image first."
	case errors.Is(err, dispatch.ErrNoQuestion):
		return "Please enter a question."
	case errors.Is(err, dispatch.ErrNoPrompt):
		return "Please enter a prompt."
	case errors.As(err, &precondition):
		return "Missing input: " + precondition.Reason + "."
	case errors.As(err, &netErr):
		if netErr.Service == domain.ServiceDetect {
			return fmt.Sprintf("Cannot reach the object detection service at %s. Make sure it is running.", netErr.Endpoint)
		}
		return fmt.Sprintf("Cannot reach %s at %s.", displayName(reg, netErr.Service), netErr.Endpoint)
	case errors.As(err, &httpErr):
		msg := fmt.Sprintf("%s failed with HTTP status %d", displayName(reg, httpErr.Service), httpErr.Status)
		if httpErr.Message != "" {
			msg += ": " + httpErr.Message
		}
		return msg + "."
	case errors.As(err, &notSelected):
		return fmt.Sprintf("Switch to %s first.", displayName(reg, notSelected.Want))
	case errors.Is(err, registry.ErrUnknownService):
		return "Unknown service."
	}
	return "Error: " + err.Error()
}

func displayName(reg *registry.Registry, id domain.ServiceID) string {
	if reg == nil {
		return string(id)
	}
	d, err := reg.Resolve(id)
	if err != nil {
		return string(id)
	}
	return d.DisplayName
}
