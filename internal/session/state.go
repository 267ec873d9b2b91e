package session

import (
	"time"

	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/render"
)

// NoticeLifetime is how long a notice stays visible after it is raised.
const NoticeLifetime = 3 * time.Second

// Notice is a user-facing failure message.
type Notice struct {
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Err       error     `json:"-"`
}

// state is owned by the controller goroutine and never shared.
type state struct {
	service          domain.ServiceID
	image            *imagesource.Image
	requestStartedAt time.Time
	// generation advances on every issued request, service switch and image
	// removal. A completion applies its payload only if it still matches.
	generation uint64
	pending    int
	// waiters are released once pending drops to zero.
	waiters []chan struct{}
	view    render.View
	notice  *Notice
}

type ImageInfo struct {
	Name       string `json:"name"`
	MIMEType   string `json:"mime_type"`
	Size       int    `json:"size"`
	Dimensions string `json:"dimensions"`
	Preview    string `json:"preview,omitempty"`
}

// Snapshot is a copy of the session taken on the controller goroutine.
type Snapshot struct {
	Service          domain.ServiceID `json:"service"`
	DisplayName      string           `json:"display_name"`
	Image            *ImageInfo       `json:"image,omitempty"`
	RequestStartedAt *time.Time       `json:"request_started_at,omitempty"`
	Pending          int              `json:"pending"`
	View             render.View      `json:"view"`
	Notice           *Notice          `json:"notice,omitempty"`
}

func (s Snapshot) HasImage() bool { return s.Image != nil }

func (c *Controller) snapshot() Snapshot {
	s := &c.state
	snap := Snapshot{
		Service:     s.service,
		DisplayName: c.registry.MustResolve(s.service).DisplayName,
		Pending:     s.pending,
		View:        s.view,
	}
	if s.image != nil {
		snap.Image = &ImageInfo{
			Name:       s.image.Name,
			MIMEType:   s.image.MIMEType,
			Size:       len(s.image.Data),
			Dimensions: s.image.Dimensions(),
		}
		if c.previews {
			snap.Image.Preview = s.image.PreviewURI()
		}
	}
	if !s.requestStartedAt.IsZero() {
		started := s.requestStartedAt
		snap.RequestStartedAt = &started
	}
	if s.notice != nil && c.now().Before(s.notice.ExpiresAt) {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}
