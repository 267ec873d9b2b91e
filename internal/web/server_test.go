package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/imagesource/local"
	"github.com/vbonduro/imagelab/internal/registry"
	"github.com/vbonduro/imagelab/internal/render"
	"github.com/vbonduro/imagelab/internal/session"
	"github.com/vbonduro/imagelab/internal/web"
)

type countingDispatcher struct {
	detects   atomic.Int32
	asks      atomic.Int32
	generates atomic.Int32
}

func (d *countingDispatcher) Detect(context.Context, *imagesource.Image) (*domain.DetectionResult, error) {
	d.detects.Add(1)
	return &domain.DetectionResult{TotalObjects: 1, Model: "X", Detections: []domain.Detection{{Name: "tree", Confidence: "92"}}}, nil
}

func (d *countingDispatcher) Ask(context.Context, *imagesource.Image, string) (*domain.VQAAnswer, error) {
	d.asks.Add(1)
	return &domain.VQAAnswer{AnswerText: "Evet"}, nil
}

func (d *countingDispatcher) Generate(context.Context, string) (*domain.ImageGenResult, error) {
	d.generates.Add(1)
	return &domain.ImageGenResult{ImageURL: "http://x/y.png"}, nil
}

type fakeHealth struct {
	statuses []dispatch.HealthStatus
}

func (f *fakeHealth) HealthAll(context.Context) []dispatch.HealthStatus {
	return f.statuses
}

type testEnv struct {
	server     *web.Server
	session    *session.Controller
	hub        *web.Hub
	dispatcher *countingDispatcher
	health     *fakeHealth
	libraryDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := registry.New(
		domain.ServiceDescriptor{ID: domain.ServiceDetect, EndpointURL: "http://localhost:8000/detect", DisplayName: "Object Detection"},
		domain.ServiceDescriptor{ID: domain.ServiceVQA, EndpointURL: "http://localhost:8002/vqa", DisplayName: "Visual Question Answering"},
		domain.ServiceDescriptor{ID: domain.ServiceImgGen, EndpointURL: "http://localhost:8001/generate", DisplayName: "Image Generation"},
	)
	require.NoError(t, err)

	dir := t.TempDir()
	lib, err := local.NewLibrary(dir, 1<<20)
	require.NoError(t, err)

	env := &testEnv{
		hub:        web.NewHub(),
		dispatcher: &countingDispatcher{},
		health:     &fakeHealth{},
		libraryDir: dir,
	}
	env.session = session.New(reg, env.dispatcher, slog.Default(), session.Options{OnChange: env.hub.Publish, Previews: true})
	t.Cleanup(env.session.Close)
	t.Cleanup(env.hub.Close)
	env.server = web.NewServer(env.session, reg, env.hub, env.health, lib, 1<<20, slog.Default())
	return env
}

type stateResponse struct {
	State session.Snapshot `json:"state"`
	Error string           `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, stateResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var resp stateResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (e *testEnv) upload(t *testing.T, filename, contentType string, data []byte) (*httptest.ResponseRecorder, stateResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var resp stateResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))))
	return buf.Bytes()
}

func TestStateDefaultsAndHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/state", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, domain.ServiceDetect, resp.State.Service)
	assert.Equal(t, "Object Detection", resp.State.DisplayName)
	assert.Nil(t, resp.State.Image)
	assert.Empty(t, resp.Error)
}

func TestListServices(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var services []struct {
		ID          string `json:"id"`
		EndpointURL string `json:"endpoint_url"`
		DisplayName string `json:"display_name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	require.Len(t, services, 3)
	assert.Equal(t, "detect", services[0].ID)
	assert.Equal(t, "vqa", services[1].ID)
	assert.Equal(t, "imggen", services[2].ID)
}

func TestSelectService(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPut, "/api/service", map[string]string{"service": "vqa"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ServiceVQA, resp.State.Service)

	rec, resp = env.do(t, http.MethodPut, "/api/service", map[string]string{"service": "ocr"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown service.", resp.Error)
	assert.Equal(t, domain.ServiceVQA, resp.State.Service)
}

func TestSelectServiceMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPut, "/api/service", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadWhileDetectSelectedAutoAnalyzes(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.upload(t, "street.png", "image/png", pngBytes(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.State.Image)
	assert.Equal(t, "street.png", resp.State.Image.Name)
	assert.Equal(t, "3x2", resp.State.Image.Dimensions)
	assert.True(t, strings.HasPrefix(resp.State.Image.Preview, "data:image/png;base64,"))

	env.session.Wait()
	assert.Equal(t, int32(1), env.dispatcher.detects.Load())

	_, resp = env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, render.KindDetect, resp.State.View.Kind)
	assert.Equal(t, "92%", resp.State.View.Detect.Entries[0].Confidence)
}

func TestUploadDeclaredTypeFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantImage   bool
	}{
		{name: "octet-stream uses extension", filename: "a.png", contentType: "application/octet-stream", data: []byte("x"), wantImage: true},
		{name: "no type no extension sniffs", filename: "upload", data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, wantImage: true},
		{name: "text ignored", filename: "notes.txt", contentType: "text/plain", data: []byte("hello"), wantImage: false},
		{name: "declared type wins over extension", filename: "photo.png", contentType: "application/pdf", data: []byte("%PDF"), wantImage: false},
		{name: "empty image ignored", filename: "empty.png", contentType: "image/png", wantImage: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.session.SelectService(domain.ServiceVQA)
			require.NoError(t, err)

			rec, resp := env.upload(t, tt.filename, tt.contentType, tt.data)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, resp.Error)
			assert.Equal(t, tt.wantImage, resp.State.Image != nil)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "just over the image limit", size: 1<<20 + 1},
		{name: "body over the form limit", size: 3 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec, resp := env.upload(t, "big.png", "image/png", bytes.Repeat([]byte("x"), tt.size))

			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
			assert.Equal(t, "Error: image too large", resp.Error)
			assert.Nil(t, resp.State.Image)
		})
	}
}

func TestUploadMissingField(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/analyze", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Please load an image first.", resp.Error)
	require.NotNil(t, resp.State.Notice)
	assert.Equal(t, int32(0), env.dispatcher.detects.Load())
}

func TestAskFlow(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/service", map[string]string{"service": "vqa"})
	env.upload(t, "street.png", "image/png", pngBytes(t))

	rec, resp := env.do(t, http.MethodPost, "/api/analyze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, render.KindVQA, resp.State.View.Kind)

	rec, resp = env.do(t, http.MethodPost, "/api/ask", map[string]string{"question": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Please enter a question.", resp.Error)

	rec, _ = env.do(t, http.MethodPost, "/api/ask", map[string]string{"question": "Is there a tree?"})
	require.Equal(t, http.StatusOK, rec.Code)
	env.session.Wait()

	_, resp = env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, render.KindVQA, resp.State.View.Kind)
	assert.Equal(t, "Evet", resp.State.View.VQA.Answer)
	assert.Equal(t, int32(1), env.dispatcher.asks.Load())
	assert.Equal(t, int32(0), env.dispatcher.detects.Load())
}

func TestAskWrongService(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/ask", map[string]string{"question": "what?"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Switch to Visual Question Answering first.", resp.Error)
}

func TestGenerateFlow(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/service", map[string]string{"service": "imggen"})

	rec, resp := env.do(t, http.MethodPost, "/api/generate", map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Please enter a prompt.", resp.Error)

	rec, _ = env.do(t, http.MethodPost, "/api/generate", map[string]string{"prompt": "a red bicycle"})
	require.Equal(t, http.StatusOK, rec.Code)
	env.session.Wait()

	_, resp = env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, render.KindImageGen, resp.State.View.Kind)
	assert.Equal(t, "http://x/y.png", resp.State.View.ImageGen.ImageURL)
}

func TestRemoveImage(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "street.png", "image/png", pngBytes(t))
	env.session.Wait()

	rec, resp := env.do(t, http.MethodDelete, "/api/image", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.State.Image)
	assert.False(t, resp.State.View.Visible())
}

func TestDismissNotice(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/analyze", nil)

	rec, resp := env.do(t, http.MethodDelete, "/api/notice", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.State.Notice)
}

func TestLibrary(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.libraryDir, "b.png"), pngBytes(t), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(env.libraryDir, "a.txt"), []byte("x"), 0600))
	_, err := env.session.SelectService(domain.ServiceImgGen)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/library", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []struct {
		Name     string `json:"name"`
		MIMEType string `json:"mime_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "b.png", entries[0].Name)

	rec, resp := env.do(t, http.MethodPost, "/api/library/b.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.State.Image)
	assert.Equal(t, "b.png", resp.State.Image.Name)

	rec, _ = env.do(t, http.MethodPost, "/api/library/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/library/a.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.State.Image)
	assert.Equal(t, "b.png", resp.State.Image.Name)
	assert.Nil(t, resp.State.Notice)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.health.statuses = []dispatch.HealthStatus{
		{Service: domain.ServiceDetect, Endpoint: "http://localhost:8000/health"},
		{Service: domain.ServiceVQA, Endpoint: "http://localhost:8002/health", Err: &dispatch.NetworkError{
			Service: domain.ServiceVQA, Endpoint: "http://localhost:8002/health", Err: errors.New("connection refused"),
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []struct {
		Service string `json:"service"`
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].OK)
	assert.Empty(t, out[0].Error)
	assert.False(t, out[1].OK)
	assert.Contains(t, out[1].Error, "Cannot reach Visual Question Answering")
}

func TestEventsStreamSnapshots(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextSnapshot := func() session.Snapshot {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var snap session.Snapshot
				require.NoError(t, json.Unmarshal([]byte(data), &snap))
				return snap
			}
		}
	}

	first := nextSnapshot()
	assert.Equal(t, domain.ServiceDetect, first.Service)

	_, err = env.session.SelectService(domain.ServiceImgGen)
	require.NoError(t, err)

	// Read-only commands also publish, so skip repeats of the first state.
	var next session.Snapshot
	for i := 0; i < 5 && next.Service != domain.ServiceImgGen; i++ {
		next = nextSnapshot()
	}
	assert.Equal(t, domain.ServiceImgGen, next.Service)
	assert.Equal(t, "Image Generation", next.DisplayName)
}
