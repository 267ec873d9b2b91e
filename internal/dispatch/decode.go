package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vbonduro/imagelab/internal/domain"
)

// Fallbacks applied when a field is absent or malformed.
const (
	DefaultDetectModel = "LLaVA-34B"
)

// lenientString accepts a JSON string, or the literal text of a number or
// boolean. Anything else decodes to "".
type lenientString string

func (s *lenientString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		*s = lenientString(v)
	case 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) || json.Valid(data) {
			*s = lenientString(data)
		}
	}
	return nil
}

// lenientInt accepts an integer, a float with no fraction, or a numeric
// string. Anything else decodes to 0.
type lenientInt int

func (n *lenientInt) UnmarshalJSON(data []byte) error {
	var s lenientString
	_ = s.UnmarshalJSON(data)
	if v, err := strconv.Atoi(string(s)); err == nil {
		*n = lenientInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(string(s), 64); err == nil && f == float64(int(f)) {
		*n = lenientInt(int(f))
	}
	return nil
}

type lenientConfidence domain.Confidence

func (c *lenientConfidence) UnmarshalJSON(data []byte) error {
	var v domain.Confidence
	if err := v.UnmarshalJSON(data); err != nil {
		return nil
	}
	*c = lenientConfidence(v)
	return nil
}

type detectionJSON struct {
	Name        lenientString     `json:"name"`
	Confidence  lenientConfidence `json:"confidence"`
	Location    lenientString     `json:"location"`
	Details     *lenientString    `json:"details"`
	Description lenientString     `json:"description"`
}

type detectJSON struct {
	TotalObjects lenientInt      `json:"total_objects"`
	Model        lenientString   `json:"model"`
	Detections   json.RawMessage `json:"detections"`
	// Objects is the key the detect service itself emits.
	Objects json.RawMessage `json:"objects"`
}

// decodeDetections returns nil unless raw is a JSON array of objects.
func decodeDetections(raw json.RawMessage) []detectionJSON {
	if len(raw) == 0 {
		return nil
	}
	var out []detectionJSON
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeDetect(body []byte) (*domain.DetectionResult, error) {
	var raw detectJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	entries := decodeDetections(raw.Detections)
	if entries == nil {
		entries = decodeDetections(raw.Objects)
	}

	result := &domain.DetectionResult{
		TotalObjects: int(raw.TotalObjects),
		Model:        string(raw.Model),
		Detections:   make([]domain.Detection, 0, len(entries)),
	}
	if result.Model == "" {
		result.Model = DefaultDetectModel
	}
	for _, e := range entries {
		d := domain.Detection{
			Name:       string(e.Name),
			Confidence: domain.Confidence(e.Confidence),
			Location:   string(e.Location),
			Details:    string(e.Description),
		}
		if e.Details != nil {
			d.Details = string(*e.Details)
		}
		result.Detections = append(result.Detections, d)
	}
	return result, nil
}

type vqaJSON struct {
	Answer   lenientString `json:"answer"`
	Response lenientString `json:"response"`
}

// decodeVQA applies answer, then response. An empty AnswerText means
// neither field carried text.
func decodeVQA(body []byte) (*domain.VQAAnswer, error) {
	var raw vqaJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode vqa response: %w", err)
	}
	answer := string(raw.Answer)
	if answer == "" {
		answer = string(raw.Response)
	}
	return &domain.VQAAnswer{AnswerText: answer}, nil
}

type imgGenJSON struct {
	ImageURL lenientString `json:"image_url"`
}

func decodeImgGen(body []byte) (*domain.ImageGenResult, error) {
	var raw imgGenJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode imggen response: %w", err)
	}
	return &domain.ImageGenResult{ImageURL: string(raw.ImageURL)}, nil
}

// backendMessage extracts {"error": "..."} from an error body.
func backendMessage(body []byte) string {
	var raw struct {
		Error lenientString `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ""
	}
	return string(raw.Error)
}
