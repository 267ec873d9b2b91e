package web

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/session"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

// handleUploadImage loads the multipart "image" field. The part's declared
// Content-Type decides acceptance, falling back to the file extension and
// then to content sniffing. Files that are not images are ignored.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respond(w, session.Snapshot{}, imagesource.ErrTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	data, err := io.ReadAll(io.LimitReader(file, s.maxImageBytes+1))
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "name", header.Filename, "error", err)
		return
	}
	if int64(len(data)) > s.maxImageBytes {
		s.respond(w, session.Snapshot{}, imagesource.ErrTooLarge)
		return
	}

	snap, err := s.session.Load(header.Filename, declaredType(header.Header.Get("Content-Type"), header.Filename, data), data)
	s.respond(w, snap, err)
}

func declaredType(contentType, filename string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if mt := imagesource.DeclaredType(filename); mt != "" {
		return mt
	}
	return imagesource.Sniff(data)
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.RemoveImage()
	s.respond(w, snap, err)
}

type libraryEntryJSON struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		http.NotFound(w, r)
		return
	}
	entries, err := s.library.List(r.Context())
	if err != nil {
		http.Error(w, "failed to list images", http.StatusInternalServerError)
		s.logger.Error("list library failed", "error", err)
		return
	}
	out := make([]libraryEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, libraryEntryJSON{Name: e.Name, MIMEType: e.MIMEType, Size: e.Size})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleOpenLibraryImage loads an image from the server-side picker
// directory. Files that are not images are ignored like uploads.
func (s *Server) handleOpenLibraryImage(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		http.NotFound(w, r)
		return
	}
	img, err := s.library.Open(r.Context(), r.PathValue("name"))
	if imagesource.Ignored(err) {
		s.logger.Debug("ignoring file", "name", r.PathValue("name"), "reason", err)
		s.respond(w, session.Snapshot{}, nil)
		return
	}
	if err != nil {
		s.respond(w, session.Snapshot{}, err)
		return
	}
	snap, err := s.session.LoadImage(img)
	s.respond(w, snap, err)
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
