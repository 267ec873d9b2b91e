// Package dispatch sends one request per user action to the active inference
// backend and classifies the outcome.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/registry"
)

// maxResponseSize bounds a response body; imggen may answer with image bytes.
const maxResponseSize = 64 * 1024 * 1024

type Client struct {
	registry *registry.Registry
	client   *http.Client
	logger   *slog.Logger
}

// NewClient returns a Client whose requests are bounded by timeout.
func NewClient(reg *registry.Registry, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		registry: reg,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type response struct {
	contentType string
	body        []byte
}

func (c *Client) send(ctx context.Context, id domain.ServiceID, method, url, contentType string, body io.Reader) (*response, error) {
	requestID := uuid.NewString()
	logger := c.logger.With("service", id, "request_id", requestID)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &NetworkError{Service: id, Endpoint: url, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("request failed", "endpoint", url, "error", err)
		return nil, &NetworkError{Service: id, Endpoint: url, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		logger.Warn("failed to read response", "status", resp.StatusCode, "error", err)
		return nil, &NetworkError{Service: id, Endpoint: url, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	logger.Info("request complete",
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Service: id, Status: resp.StatusCode, Message: backendMessage(data)}
	}
	return &response{contentType: resp.Header.Get("Content-Type"), body: data}, nil
}

func (c *Client) post(ctx context.Context, id domain.ServiceID, contentType string, body io.Reader) (*response, error) {
	d := c.registry.MustResolve(id)
	return c.send(ctx, id, http.MethodPost, d.EndpointURL, contentType, body)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody encodes img as the "image" part, followed by any text fields
// in the given order.
func multipartBody(img *imagesource.Image, fields ...[2]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "image"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", img.MIMEType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
