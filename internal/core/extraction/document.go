package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

// Shape is the detected variant of a backend response.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeCompletion embeds the JSON document in model completion text.
	ShapeCompletion
	// ShapeStructured carries the extraction in machine-readable fields.
	ShapeStructured
)

func (s Shape) String() string {
	switch s {
	case ShapeCompletion:
		return "completion"
	case ShapeStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// document is the common representation both shapes decode into.
type document struct {
	TimeFrames    []frame         `json:"time_frames"`
	Tasks         []rawTask       `json:"tasks"`
	Medications   []rawMedication `json:"medications"`
	EmergencyInfo *rawEmergency   `json:"emergency_info"`
	DoctorContact *rawContact     `json:"doctor_contact"`
	Confidence    *flexNumber     `json:"confidence"`
}

// frame is one instruction unit: an offset, its unit, a do/don't flag and text.
type frame struct {
	Time       flexNumber  `json:"time"`
	Unit       string      `json:"unit"`
	Message    string      `json:"message"`
	Type       flexNumber  `json:"type"`
	TaskType   string      `json:"task_type"`
	Confidence *flexNumber `json:"confidence"`
	Page       flexNumber  `json:"page"`
}

func (f frame) restricted() bool {
	return int(f.Type) == 1
}

type rawTask struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Type              string      `json:"type"`
	Status            string      `json:"status"`
	ActionType        string      `json:"actionType"`
	Category          string      `json:"category"`
	ScheduledTime     string      `json:"scheduledTime"`
	EstimatedDuration flexNumber  `json:"estimatedDuration"`
	Instructions      flexStrings `json:"instructions"`
	Dependencies      flexStrings `json:"dependencies"`
	Metadata          struct {
		Source       string      `json:"source"`
		Confidence   *flexNumber `json:"confidence"`
		OriginalText string      `json:"originalText"`
		PageNumber   flexNumber  `json:"pageNumber"`
	} `json:"metadata"`
}

type rawMedication struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Dosage       string      `json:"dosage"`
	Frequency    string      `json:"frequency"`
	Duration     string      `json:"duration"`
	Instructions flexStrings `json:"instructions"`
	SideEffects  flexStrings `json:"sideEffects"`
	Interactions flexStrings `json:"interactions"`
}

type rawContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
	Specialty    string `json:"specialty"`
}

func (c *rawContact) contact() domain.ContactInfo {
	if c == nil {
		return domain.ContactInfo{}
	}
	return domain.ContactInfo{
		Name:         strings.TrimSpace(c.Name),
		Phone:        strings.TrimSpace(c.Phone),
		Relationship: strings.TrimSpace(c.Relationship),
		Specialty:    strings.TrimSpace(c.Specialty),
	}
}

type rawEmergency struct {
	WarningSignsTitle       string      `json:"warning_signs_title"`
	WarningSignsDescription string      `json:"warning_signs_description"`
	WarningSignsList        flexStrings `json:"warning_signs_list"`
	EmergencyContact        *rawContact `json:"emergency_contact"`
	DoctorContact           *rawContact `json:"doctor_contact"`
}

// completion is the envelope of a language model answer.
type completion struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c completion) text() string {
	for _, part := range c.Content {
		if part.Type != "" && part.Type != "text" {
			continue
		}
		if strings.TrimSpace(part.Text) != "" {
			return part.Text
		}
	}
	return ""
}

// probe detects the response shape. For completions it also returns the
// embedded text.
func probe(raw []byte) (Shape, string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return ShapeUnknown, "", fmt.Errorf("decode response envelope: %w", err)
	}

	for _, key := range []string{"parsed", "response"} {
		nested, ok := top[key]
		if !ok {
			continue
		}
		var c completion
		if err := json.Unmarshal(nested, &c); err == nil {
			if text := c.text(); text != "" {
				return ShapeCompletion, text, nil
			}
		}
	}
	if _, ok := top["content"]; ok {
		var c completion
		if err := json.Unmarshal(raw, &c); err == nil {
			if text := c.text(); text != "" {
				return ShapeCompletion, text, nil
			}
		}
	}

	for _, key := range []string{"time_frames", "tasks", "medications"} {
		if _, ok := top[key]; ok {
			return ShapeStructured, "", nil
		}
	}
	return ShapeUnknown, "", errors.New("no completion text or extraction fields")
}

// decode maps a raw backend response onto the common document.
func decode(raw []byte) (document, Shape, error) {
	shape, text, err := probe(bytes.TrimSpace(raw))
	if err != nil {
		return document{}, shape, err
	}

	payload := raw
	if shape == ShapeCompletion {
		payload = []byte(cleanJSON(text))
	}
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return document{}, shape, fmt.Errorf("decode %s document: %w", shape, err)
	}
	return doc, shape, nil
}

// flexNumber accepts JSON numbers and numeric strings.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*n = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(v)
	return nil
}

// flexStrings accepts a list of strings or a single string.
type flexStrings []string

func (s *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*s = nil
			return nil
		}
		*s = []string{single}
		return nil
	}
	*s = nil
	return nil
}
