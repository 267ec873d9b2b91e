package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/registry"
)

func TestDescribe(t *testing.T) {
	reg := testRegistry(t)
	refused := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "no image", err: dispatch.ErrNoImage, want: "Please load an image first."},
		{name: "no question", err: dispatch.ErrNoQuestion, want: "Please enter a question."},
		{name: "no prompt", err: dispatch.ErrNoPrompt, want: "Please enter a prompt."},
		{name: "other precondition", err: &dispatch.PreconditionError{Reason: "no mask"}, want: "Missing input: no mask."},
		{
			name: "detect unreachable",
			err:  &dispatch.NetworkError{Service: domain.ServiceDetect, Endpoint: "http://localhost:8000/detect", Err: refused},
			want: "Cannot reach the object detection service at http://localhost:8000/detect. Make sure it is running.",
		},
		{
			name: "vqa unreachable",
			err:  &dispatch.NetworkError{Service: domain.ServiceVQA, Endpoint: "http://localhost:8002/vqa", Err: refused},
			want: "Cannot reach Visual Question Answering at http://localhost:8002/vqa.",
		},
		{
			name: "wrapped http error",
			err:  fmt.Errorf("failed to generate: %w", &dispatch.HTTPError{Service: domain.ServiceImgGen, Status: 503}),
			want: "Image Generation failed with HTTP status 503.",
		},
		{
			name: "not selected",
			err:  &NotSelectedError{Want: domain.ServiceImgGen, Have: domain.ServiceDetect},
			want: "Switch to Image Generation first.",
		},
		{name: "unknown service", err: fmt.Errorf("%w: %q", registry.ErrUnknownService, "ocr"), want: "Unknown service."},
		{name: "anything else", err: errors.New("boom"), want: "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err, reg))
		})
	}
}

func TestDescribeWithoutRegistry(t *testing.T) {
	err := &dispatch.HTTPError{Service: domain.ServiceVQA, Status: 400, Message: "Image is required"}
	assert.Equal(t, "vqa failed with HTTP status 400: Image is required.", Describe(err, nil))
}
