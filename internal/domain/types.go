package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ServiceID identifies one of the inference backends the client can target.
type ServiceID string

const (
	ServiceDetect ServiceID = "detect"
	ServiceVQA    ServiceID = "vqa"
	ServiceImgGen ServiceID = "imggen"
)

// Services lists every known service in display order.
var Services = []ServiceID{ServiceDetect, ServiceVQA, ServiceImgGen}

func (id ServiceID) Valid() bool {
	switch id {
	case ServiceDetect, ServiceVQA, ServiceImgGen:
		return true
	}
	return false
}

type ServiceDescriptor struct {
	ID          ServiceID
	EndpointURL string
	DisplayName string
}

// Confidence is the literal text of a detection's confidence value. The
// backend may send a number or a string; either is kept verbatim.
type Confidence string

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Confidence(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Confidence(n.String())
	return nil
}

// Float reports the numeric value when the literal parses as a number.
func (c Confidence) Float() (float64, bool) {
	f, err := strconv.ParseFloat(string(c), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

type Detection struct {
	Name       string
	Confidence Confidence
	Location   string
	Details    string
}

type DetectionResult struct {
	TotalObjects int
	Model        string
	Elapsed      time.Duration
	Detections   []Detection
}

type VQAAnswer struct {
	AnswerText string
}

type ImageGenResult struct {
	// ImageURL is empty when the backend reported success without a URL.
	ImageURL string
}
