// Package triage defines the disaster report model, its processing state
// machine, and the repository contract the pipeline persists through.
package triage

import (
	"strings"
	"time"
)

// MaxRawTextLength is the maximum length of a report's raw text, in characters.
const MaxRawTextLength = 5000

// DefaultImageMimeType is used when an image-sourced report omits its type.
const DefaultImageMimeType = "image/jpeg"

// Platform identifies where a report was posted.
type Platform string

const (
	PlatformTwitter   Platform = "Twitter"
	PlatformFacebook  Platform = "Facebook"
	PlatformInstagram Platform = "Instagram"
	PlatformReddit    Platform = "Reddit"
	PlatformWeb       Platform = "Web"
	PlatformUnknown   Platform = "Unknown"
)

// Platforms lists every accepted platform value.
var Platforms = []Platform{
	PlatformTwitter, PlatformFacebook, PlatformInstagram,
	PlatformReddit, PlatformWeb, PlatformUnknown,
}

// IsValid reports whether p is one of the known platforms.
func (p Platform) IsValid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePlatform resolves a platform name case-insensitively. The empty
// string maps to PlatformUnknown.
func ParsePlatform(s string) (Platform, bool) {
	if s == "" {
		return PlatformUnknown, true
	}
	for _, known := range Platforms {
		if equalFold(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// Urgency is the classifier's urgency verdict.
type Urgency string

const (
	UrgencyHigh          Urgency = "High"
	UrgencyMedium        Urgency = "Medium"
	UrgencyLow           Urgency = "Low"
	UrgencyNeedsReview   Urgency = "Needs Review"
	UrgencyNotApplicable Urgency = "Not Applicable"
)

// Urgencies lists every urgency value in display order.
var Urgencies = []Urgency{
	UrgencyHigh, UrgencyMedium, UrgencyLow, UrgencyNeedsReview, UrgencyNotApplicable,
}

// IsValid reports whether u is one of the known urgency levels.
func (u Urgency) IsValid() bool {
	for _, known := range Urgencies {
		if u == known {
			return true
		}
	}
	return false
}

// ParseUrgency resolves an urgency name case-insensitively.
func ParseUrgency(s string) (Urgency, bool) {
	for _, known := range Urgencies {
		if equalFold(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// HelpType is the dominant kind of help a report asks for.
type HelpType string

const (
	HelpTypeMedical     HelpType = "Medical"
	HelpTypeFood        HelpType = "Food"
	HelpTypeShelter     HelpType = "Shelter"
	HelpTypeRescue      HelpType = "Rescue"
	HelpTypeEvacuation  HelpType = "Evacuation"
	HelpTypeInformation HelpType = "Information"
	HelpTypeOther       HelpType = "Other"
	HelpTypeNone        HelpType = ""
)

// HelpTypes lists every non-empty help type.
var HelpTypes = []HelpType{
	HelpTypeMedical, HelpTypeFood, HelpTypeShelter, HelpTypeRescue,
	HelpTypeEvacuation, HelpTypeInformation, HelpTypeOther,
}

// ParseHelpType resolves a help type name case-insensitively.
func ParseHelpType(s string) (HelpType, bool) {
	for _, known := range HelpTypes {
		if equalFold(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// ProcessingStatus is a report's position in the processing state machine.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "Pending"
	StatusProcessing ProcessingStatus = "Processing"
	StatusCompleted  ProcessingStatus = "Completed"
	StatusFailed     ProcessingStatus = "Failed"
)

// Statuses lists every processing status in lifecycle order.
var Statuses = []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// IsValid reports whether s is one of the known statuses.
func (s ProcessingStatus) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus resolves a status name case-insensitively.
func ParseStatus(s string) (ProcessingStatus, bool) {
	for _, known := range Statuses {
		if equalFold(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// Pipeline stage names, recorded on ProcessingError entries.
const (
	StageNormalize = "normalize"
	StageClassify  = "classify"
	StageExtract   = "extract"

	// StageRecovery marks reports failed after their claim went stale.
	StageRecovery = "recovery"
)

// Source describes the post a report came from.
type Source struct {
	Platform Platform `json:"platform" yaml:"platform"`
	PostID   string   `json:"postId,omitempty" yaml:"post_id,omitempty"`
	Author   string   `json:"author,omitempty" yaml:"author,omitempty"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
}

// ImageSource holds the original upload of an image-sourced report.
// Text recognition happens upstream; its output arrives as RawText.
type ImageSource struct {
	MimeType string `json:"mimeType" yaml:"mime_type"`
	Data     []byte `json:"data,omitempty" yaml:"-"`
}

// Classification is the classifier's verdict on a report.
type Classification struct {
	IsHelpRequest bool     `json:"isHelpRequest" yaml:"is_help_request"`
	Urgency       Urgency  `json:"urgency,omitempty" yaml:"urgency,omitempty"`
	Confidence    float64  `json:"confidence" yaml:"confidence"`
	Categories    []string `json:"categories" yaml:"categories"`
}

// Contacts holds extracted contact details.
type Contacts struct {
	Phones []string `json:"phones" yaml:"phones"`
	Emails []string `json:"emails" yaml:"emails"`
}

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Location is an address-like phrase found in the text.
type Location struct {
	Name        string       `json:"name" yaml:"name"`
	Coordinates *Coordinates `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// EventTimestamp records a lifecycle event on the report.
type EventTimestamp struct {
	EventType string    `json:"eventType" yaml:"event_type"`
	EventTime time.Time `json:"eventTime" yaml:"event_time"`
}

// Quantity is a counted resource mentioned in the report.
type Quantity struct {
	Item   string  `json:"item" yaml:"item"`
	Amount float64 `json:"amount" yaml:"amount"`
	Unit   string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ExtractedDetails are the structured entities pulled from a report.
type ExtractedDetails struct {
	Names          []string         `json:"names" yaml:"names"`
	Contacts       Contacts         `json:"contacts" yaml:"contacts"`
	Locations      []Location       `json:"locations" yaml:"locations"`
	HelpType       HelpType         `json:"helpType,omitempty" yaml:"help_type,omitempty"`
	Timestamps     []EventTimestamp `json:"timestamps" yaml:"timestamps"`
	Quantities     []Quantity       `json:"quantities" yaml:"quantities"`
	RawNLPResponse string           `json:"rawNlpResponse,omitempty" yaml:"raw_nlp_response,omitempty"`
}

// ProcessingError is one entry in a report's append-only error history.
type ProcessingError struct {
	Stage     string    `json:"stage" yaml:"stage"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Report is a single disaster report and its processing state.
type Report struct {
	ID               string            `json:"id" yaml:"id"`
	RawText          string            `json:"rawText" yaml:"raw_text"`
	Image            *ImageSource      `json:"image,omitempty" yaml:"image,omitempty"`
	Source           Source            `json:"source" yaml:"source"`
	ProcessedText    string            `json:"processedText,omitempty" yaml:"processed_text,omitempty"`
	Classification   Classification    `json:"classification" yaml:"classification"`
	ExtractedDetails ExtractedDetails  `json:"extractedDetails" yaml:"extracted_details"`
	ProcessingStatus ProcessingStatus  `json:"processingStatus" yaml:"processing_status"`
	ProcessingErrors []ProcessingError `json:"processingErrors" yaml:"processing_errors"`
	CreatedAt        time.Time         `json:"createdAt" yaml:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" yaml:"updated_at"`
	Version          int64             `json:"version" yaml:"version"`
}

// IsHighPriority reports whether the report is an urgent help request.
func (r *Report) IsHighPriority() bool {
	return r.Classification.Urgency == UrgencyHigh && r.Classification.IsHelpRequest
}

// LastError returns the most recent processing error, or nil.
func (r *Report) LastError() *ProcessingError {
	if len(r.ProcessingErrors) == 0 {
		return nil
	}
	return &r.ProcessingErrors[len(r.ProcessingErrors)-1]
}

// Clone returns a deep copy of r so callers can mutate it without
// affecting the stored value.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	if r.Image != nil {
		img := *r.Image
		img.Data = append([]byte(nil), r.Image.Data...)
		c.Image = &img
	}
	c.Classification.Categories = cloneStrings(r.Classification.Categories)
	c.ExtractedDetails = r.ExtractedDetails.clone()
	if r.ProcessingErrors != nil {
		c.ProcessingErrors = append([]ProcessingError(nil), r.ProcessingErrors...)
	}
	return &c
}

func (d ExtractedDetails) clone() ExtractedDetails {
	c := d
	c.Names = cloneStrings(d.Names)
	c.Contacts.Phones = cloneStrings(d.Contacts.Phones)
	c.Contacts.Emails = cloneStrings(d.Contacts.Emails)
	if d.Locations != nil {
		c.Locations = make([]Location, len(d.Locations))
		for i, loc := range d.Locations {
			c.Locations[i] = loc
			if loc.Coordinates != nil {
				coords := *loc.Coordinates
				c.Locations[i].Coordinates = &coords
			}
		}
	}
	if d.Timestamps != nil {
		c.Timestamps = append([]EventTimestamp(nil), d.Timestamps...)
	}
	if d.Quantities != nil {
		c.Quantities = append([]Quantity(nil), d.Quantities...)
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// equalFold compares enum names ignoring case and treating '-' and '_' as
// spaces, so "needs-review" matches "Needs Review".
func equalFold(known, input string) bool {
	input = strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(input))
	return strings.EqualFold(known, input)
}

// Stats summarizes the stored reports.
type Stats struct {
	Total        int                      `json:"total" yaml:"total"`
	ByUrgency    map[Urgency]int          `json:"byUrgency" yaml:"by_urgency"`
	ByStatus     map[ProcessingStatus]int `json:"byStatus" yaml:"by_status"`
	Urgent       int                      `json:"urgent" yaml:"urgent"`
	HighPriority int                      `json:"highPriority" yaml:"high_priority"`
}
