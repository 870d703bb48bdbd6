package triage

import (
	"fmt"
	"time"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
)

// EventProcessed is the timestamp event appended when a report completes.
const EventProcessed = "processed"

// ReprocessableStatuses are the states an explicit Process call may claim from.
var ReprocessableStatuses = []ProcessingStatus{StatusPending, StatusFailed, StatusCompleted}

// Outcome carries the results of a successful pipeline run.
type Outcome struct {
	ProcessedText  string
	Classification Classification
	Details        ExtractedDetails
	RawNLPResponse string
}

// CanClaim reports whether a report in status may move to Processing,
// given the statuses the caller is willing to claim from.
func CanClaim(status ProcessingStatus, from []ProcessingStatus) bool {
	if status == StatusProcessing {
		return false
	}
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}

// MarkProcessing returns a copy of r in the Processing state.
func MarkProcessing(r *Report, from []ProcessingStatus) (*Report, error) {
	if !CanClaim(r.ProcessingStatus, from) {
		return nil, fmt.Errorf("report %s is %s: %w", r.ID, r.ProcessingStatus, rferrors.ErrInvalidState)
	}
	next := r.Clone()
	next.ProcessingStatus = StatusProcessing
	return next, nil
}

// MarkCompleted returns a copy of r carrying the pipeline outcome, in the
// Completed state, with a processed event appended. Extracted details are
// replaced wholesale; earlier processing errors are kept.
func MarkCompleted(r *Report, out Outcome, now time.Time) *Report {
	next := r.Clone()
	next.ProcessedText = out.ProcessedText

	cls := out.Classification
	cls.Confidence = ClampConfidence(cls.Confidence)
	if cls.Categories == nil {
		cls.Categories = []string{}
	}
	next.Classification = cls

	details := out.Details
	details.Timestamps = append(append([]EventTimestamp(nil), details.Timestamps...), EventTimestamp{EventType: EventProcessed, EventTime: now})
	details.RawNLPResponse = out.RawNLPResponse
	next.ExtractedDetails = details.withEmptySlices()

	next.ProcessingStatus = StatusCompleted
	return next
}

// MarkFailed returns a copy of r in the Failed state with one error entry
// appended for stage.
func MarkFailed(r *Report, stage string, cause error, now time.Time) *Report {
	next := r.Clone()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	next.ProcessingErrors = append(next.ProcessingErrors, ProcessingError{
		Stage:     stage,
		Message:   msg,
		Timestamp: now,
	})
	next.ProcessingStatus = StatusFailed
	return next
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func (d ExtractedDetails) withEmptySlices() ExtractedDetails {
	if d.Names == nil {
		d.Names = []string{}
	}
	if d.Contacts.Phones == nil {
		d.Contacts.Phones = []string{}
	}
	if d.Contacts.Emails == nil {
		d.Contacts.Emails = []string{}
	}
	if d.Locations == nil {
		d.Locations = []Location{}
	}
	if d.Timestamps == nil {
		d.Timestamps = []EventTimestamp{}
	}
	if d.Quantities == nil {
		d.Quantities = []Quantity{}
	}
	return d
}

// NewReport returns a Pending report ready for its first save.
func NewReport(rawText string, source Source, image *ImageSource) *Report {
	if source.Platform == "" {
		source.Platform = PlatformUnknown
	}
	if image != nil && image.MimeType == "" {
		image.MimeType = DefaultImageMimeType
	}
	return &Report{
		RawText:          rawText,
		Image:            image,
		Source:           source,
		Classification:   Classification{Categories: []string{}},
		ExtractedDetails: ExtractedDetails{}.withEmptySlices(),
		ProcessingStatus: StatusPending,
		ProcessingErrors: []ProcessingError{},
	}
}
