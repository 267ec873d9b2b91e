package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
)

// Detect uploads img to the detect endpoint. Elapsed is measured from just
// before the request is sent.
func (c *Client) Detect(ctx context.Context, img *imagesource.Image) (*domain.DetectionResult, error) {
	if err := RequireImage(img); err != nil {
		return nil, err
	}

	body, contentType, err := multipartBody(img)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.post(ctx, domain.ServiceDetect, contentType, body)
	if err != nil {
		return nil, err
	}

	result, err := decodeDetect(resp.body)
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// Ask sends img and the trimmed question to the vqa endpoint.
func (c *Client) Ask(ctx context.Context, img *imagesource.Image, question string) (*domain.VQAAnswer, error) {
	if err := RequireImage(img); err != nil {
		return nil, err
	}
	question, err := RequireText(question, ErrNoQuestion)
	if err != nil {
		return nil, err
	}

	body, contentType, err := multipartBody(img, [2]string{"question", question})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, domain.ServiceVQA, contentType, body)
	if err != nil {
		return nil, err
	}
	return decodeVQA(resp.body)
}

// Generate sends {"prompt": ...} to the imggen endpoint. No image is sent.
func (c *Client) Generate(ctx context.Context, prompt string) (*domain.ImageGenResult, error) {
	prompt, err := RequireText(prompt, ErrNoPrompt)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, domain.ServiceImgGen, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	// Some generators answer with the image itself instead of a URL.
	if mediaType, _, err := mime.ParseMediaType(resp.contentType); err == nil && strings.HasPrefix(mediaType, "image/") {
		return &domain.ImageGenResult{
			ImageURL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(resp.body),
		}, nil
	}
	return decodeImgGen(resp.body)
}
