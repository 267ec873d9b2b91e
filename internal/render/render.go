// Package render maps a service's payload to the single result view shown to
// the user. Render is pure; writers in this package only format a View.
package render

import (
	"math"

	"github.com/vbonduro/imagelab/internal/domain"
)

const (
	NoObjectsPlaceholder = "No objects detected"
	NoAnswerSentinel     = "No answer received"
	NoURLPlaceholder     = "Image generated but no URL was returned"
)

type Kind string

const (
	KindHidden   Kind = ""
	KindDetect   Kind = "detect"
	KindVQA      Kind = "vqa"
	KindImageGen Kind = "imggen"
)

// View is the result area. At most one of the panels is set, matching Kind.
type View struct {
	Kind     Kind          `json:"kind"`
	Detect   *DetectView   `json:"detect,omitempty"`
	VQA      *VQAView      `json:"vqa,omitempty"`
	ImageGen *ImageGenView `json:"imggen,omitempty"`
}

func (v View) Visible() bool { return v.Kind != KindHidden }

type DetectView struct {
	TotalObjects   int     `json:"total_objects"`
	Model          string  `json:"model"`
	ElapsedSeconds int64   `json:"elapsed_seconds"`
	Entries        []Entry `json:"entries,omitempty"`
	// Placeholder replaces Entries when nothing was detected.
	Placeholder string `json:"placeholder,omitempty"`
}

type Entry struct {
	Name       string `json:"name"`
	Confidence string `json:"confidence"`
	Location   string `json:"location"`
	Details    string `json:"details"`
}

// VQAView with an empty Answer is the question form before anything was asked.
type VQAView struct {
	Answer string `json:"answer,omitempty"`
}

// ImageGenView with neither field set is the prompt form before generation.
type ImageGenView struct {
	ImageURL    string `json:"image_url,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

func Hidden() View { return View{} }

// Render returns the view for payload. A nil payload reveals the input form
// for vqa and imggen and hides the result area for detect. A payload that
// does not belong to service hides the result area.
func Render(service domain.ServiceID, payload any) View {
	switch service {
	case domain.ServiceDetect:
		if r, ok := payload.(*domain.DetectionResult); ok && r != nil {
			return View{Kind: KindDetect, Detect: detectView(r)}
		}
	case domain.ServiceVQA:
		if payload == nil {
			return View{Kind: KindVQA, VQA: &VQAView{}}
		}
		if a, ok := payload.(*domain.VQAAnswer); ok && a != nil {
			answer := a.AnswerText
			if answer == "" {
				answer = NoAnswerSentinel
			}
			return View{Kind: KindVQA, VQA: &VQAView{Answer: answer}}
		}
	case domain.ServiceImgGen:
		if payload == nil {
			return View{Kind: KindImageGen, ImageGen: &ImageGenView{}}
		}
		if g, ok := payload.(*domain.ImageGenResult); ok && g != nil {
			if g.ImageURL == "" {
				return View{Kind: KindImageGen, ImageGen: &ImageGenView{Placeholder: NoURLPlaceholder}}
			}
			return View{Kind: KindImageGen, ImageGen: &ImageGenView{ImageURL: g.ImageURL}}
		}
	}
	return Hidden()
}

func detectView(r *domain.DetectionResult) *DetectView {
	v := &DetectView{
		TotalObjects:   r.TotalObjects,
		Model:          r.Model,
		ElapsedSeconds: int64(math.Round(r.Elapsed.Seconds())),
	}
	if len(r.Detections) == 0 {
		v.Placeholder = NoObjectsPlaceholder
		return v
	}
	v.Entries = make([]Entry, 0, len(r.Detections))
	for _, d := range r.Detections {
		v.Entries = append(v.Entries, Entry{
			Name:       d.Name,
			Confidence: formatConfidence(d.Confidence),
			Location:   d.Location,
			Details:    d.Details,
		})
	}
	return v
}

// formatConfidence appends a percent sign to the literal; the value is never
// scaled or clamped.
func formatConfidence(c domain.Confidence) string {
	if c == "" {
		return ""
	}
	return string(c) + "%"
}
