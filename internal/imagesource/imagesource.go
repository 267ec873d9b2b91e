// Package imagesource turns a user-provided file into an in-memory image
// with a displayable preview.
package imagesource

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotImage is returned for files whose declared type is not image/*.
	// Front ends ignore it silently.
	ErrNotImage = errors.New("not an image")
	ErrTooLarge = errors.New("image too large")
	ErrEmpty    = errors.New("image is empty")
)

// Ignored reports whether err marks input that front ends drop without a
// notice: a file that is not an image or has no content.
func Ignored(err error) bool {
	return errors.Is(err, ErrNotImage) || errors.Is(err, ErrEmpty)
}

type Image struct {
	Name     string
	MIMEType string
	Data     []byte
	// Width and Height are zero when the format could not be probed.
	Width  int
	Height int
}

// Load accepts data only when declaredMIME begins with "image/".
func Load(name, declaredMIME string, data []byte) (*Image, error) {
	declaredMIME = strings.ToLower(strings.TrimSpace(declaredMIME))
	if !strings.HasPrefix(declaredMIME, "image/") {
		return nil, fmt.Errorf("%w: %q", ErrNotImage, declaredMIME)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	img := &Image{
		Name:     filepath.Base(name),
		MIMEType: declaredMIME,
		Data:     data,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img, nil
}

// LoadFile reads path from disk. The declared type comes from the extension,
// the way a browser file picker reports it; content sniffing is used only
// when the extension is unknown.
func LoadFile(path string, maxBytes int64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadReader(filepath.Base(path), DeclaredType(path), f, maxBytes)
}

// LoadReader reads at most maxBytes from r. An empty declaredMIME is filled
// in by sniffing the content.
func LoadReader(name, declaredMIME string, r io.Reader, maxBytes int64) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	if declaredMIME == "" {
		declaredMIME = Sniff(data)
	}
	return Load(name, declaredMIME, data)
}

// PreviewURI renders the image as a data URI.
func (i *Image) PreviewURI() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

func (i *Image) Dimensions() string {
	if i.Width == 0 || i.Height == 0 {
		return "unknown size"
	}
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// DeclaredType maps a file name's extension to a MIME type, or "" when the
// extension is unknown.
func DeclaredType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".heic":
		return "image/heic"
	case "":
		return ""
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	return ""
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8). The stdlib sniffer has no WebP signature.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// Sniff detects the MIME type from content.
func Sniff(data []byte) string {
	if isWebP(data) {
		return "image/webp"
	}
	t := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
