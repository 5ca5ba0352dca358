package simulation

// MissionConfig is the event set-up a project shares between participants.
type MissionConfig struct {
	EventName          string `json:"event_name"`
	EventType          string `json:"event_type"`
	EventLocation      string `json:"event_location"`
	EventDate          string `json:"event_date"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	DateTime           string `json:"date_time,omitempty"`
	ExpectedAttendance int    `json:"expected_attendance"`
	AudienceType       string `json:"audience_type"`
	AdditionalNotes    string `json:"additional_notes"`
	Role               string `json:"role,omitempty"`
	AlertThreshold     string `json:"alert_threshold,omitempty"`
}

// Request is the body sent to the risk-analysis service.
type Request struct {
	EventName          string   `json:"event_name"`
	EventType          string   `json:"event_type"`
	EventLocation      string   `json:"event_location"`
	DateTime           string   `json:"date_time"`
	ExpectedAttendance int      `json:"expected_attendance"`
	AudienceType       string   `json:"audience_type"`
	Polygon            []LatLng `json:"polygon"`
	AdditionalNotes    string   `json:"additional_notes"`
	Locale             string   `json:"locale"`
	Role               string   `json:"role,omitempty"`
	AlertThreshold     string   `json:"alert_threshold,omitempty"`
}

// EventDateTime returns the legacy combined date/time string, composing it from the
// separate date and time fields when it was not stored.
func (c MissionConfig) EventDateTime() string {
	if c.DateTime != "" {
		return c.DateTime
	}
	if c.EventDate != "" && c.StartTime != "" && c.EndTime != "" {
		return c.EventDate + " " + c.StartTime + "–" + c.EndTime
	}
	return ""
}

// NewRequest builds a risk-analysis request from a mission config and venue polygon.
func NewRequest(config MissionConfig, polygon []LatLng, locale string) Request {
	if polygon == nil {
		polygon = []LatLng{}
	}
	return Request{
		EventName:          config.EventName,
		EventType:          config.EventType,
		EventLocation:      config.EventLocation,
		DateTime:           config.EventDateTime(),
		ExpectedAttendance: config.ExpectedAttendance,
		AudienceType:       config.AudienceType,
		Polygon:            polygon,
		AdditionalNotes:    config.AdditionalNotes,
		Locale:             locale,
		Role:               config.Role,
		AlertThreshold:     config.AlertThreshold,
	}
}
