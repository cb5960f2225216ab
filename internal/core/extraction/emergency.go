package extraction

import (
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

func defaultEmergencyInfo() domain.EmergencyInfo {
	return domain.EmergencyInfo{
		WarningSignsTitle:       "When to Call 911",
		WarningSignsDescription: "Call emergency services immediately if you experience:",
		WarningSignsList: []string{
			"Severe chest pain or pressure",
			"Difficulty breathing or shortness of breath",
			"Excessive bleeding from procedure site",
			"Signs of infection (fever, chills, redness)",
		},
		EmergencyContact: domain.ContactInfo{
			Name:         "Emergency Services",
			Phone:        "911",
			Relationship: "emergency",
		},
	}
}

// emergencyInfo uses what the backend supplied and falls back to the fixed
// structure, augmented with any doctor contact found in the response.
func emergencyInfo(doc document) domain.EmergencyInfo {
	info := defaultEmergencyInfo()

	if src := doc.EmergencyInfo; src != nil {
		if v := strings.TrimSpace(src.WarningSignsTitle); v != "" {
			info.WarningSignsTitle = v
		}
		if v := strings.TrimSpace(src.WarningSignsDescription); v != "" {
			info.WarningSignsDescription = v
		}
		if signs := nonEmpty(src.WarningSignsList); len(signs) > 0 {
			info.WarningSignsList = signs
		}
		if c := src.EmergencyContact.contact(); c.Phone != "" {
			info.EmergencyContact = c
		}
		if c := src.DoctorContact.contact(); c.Name != "" || c.Phone != "" {
			info.DoctorContact = c
		}
	}
	if c := doc.DoctorContact.contact(); c.Name != "" || c.Phone != "" {
		info.DoctorContact = c
	}
	return info
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
