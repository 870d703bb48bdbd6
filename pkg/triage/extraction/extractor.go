package extraction

import (
	"context"

	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
)

// Extractor produces the structured details of a report.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (triage.ExtractedDetails, error)
}

// Geocoder resolves a location phrase to coordinates. A nil result with a
// nil error means the phrase could not be resolved.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (*triage.Coordinates, error)
}

// EntityExtractor composes the Extract* functions and, when configured,
// resolves location coordinates through a Geocoder.
type EntityExtractor struct {
	geocoder Geocoder
	logger   logging.Logger
}

// Option configures an EntityExtractor.
type Option func(*EntityExtractor)

// WithGeocoder enables coordinate lookup for extracted locations.
func WithGeocoder(g Geocoder) Option {
	return func(e *EntityExtractor) {
		e.geocoder = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *EntityExtractor) {
		e.logger = logger
	}
}

// New creates an EntityExtractor.
func New(opts ...Option) *EntityExtractor {
	e := &EntityExtractor{
		logger: logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.F("component", "entity_extractor"))
	return e
}

var _ Extractor = (*EntityExtractor)(nil)

// Extract runs every extractor over rawText. Geocoding failures are logged
// and leave the location without coordinates.
func (e *EntityExtractor) Extract(ctx context.Context, rawText string) (triage.ExtractedDetails, error) {
	if err := ctx.Err(); err != nil {
		return triage.ExtractedDetails{}, err
	}

	details := triage.ExtractedDetails{
		Names: ExtractNames(rawText),
		Contacts: triage.Contacts{
			Phones: ExtractPhones(rawText),
			Emails: ExtractEmails(rawText),
		},
		Locations:  ExtractLocations(rawText),
		HelpType:   ExtractHelpType(rawText),
		Timestamps: []triage.EventTimestamp{},
		Quantities: ExtractQuantities(rawText),
	}

	if e.geocoder != nil {
		for i := range details.Locations {
			coords, err := e.geocoder.Geocode(ctx, details.Locations[i].Name)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return triage.ExtractedDetails{}, ctxErr
				}
				e.logger.Warn("Geocoding failed",
					logging.Err(err),
					logging.F("location", details.Locations[i].Name))
				continue
			}
			details.Locations[i].Coordinates = coords
		}
	}

	return details, nil
}
