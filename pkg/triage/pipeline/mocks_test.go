package pipeline

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Name() string { return "mock" }

func (m *mockClassifier) Classify(ctx context.Context, text string) (*classification.Result, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(*classification.Result)
	return res, args.Error(1)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, rawText string) (triage.ExtractedDetails, error) {
	args := m.Called(ctx, rawText)
	details, _ := args.Get(0).(triage.ExtractedDetails)
	return details, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return m.Called(ctx, channel, event).Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

// funcClassifier classifies with a plain function.
type funcClassifier func(ctx context.Context, text string) (*classification.Result, error)

func (f funcClassifier) Name() string { return "func" }

func (f funcClassifier) Classify(ctx context.Context, text string) (*classification.Result, error) {
	return f(ctx, text)
}

// failingSaveRepo fails every update while letting inserts and claims through.
type failingSaveRepo struct {
	*triage.MemoryRepository
	err error
}

func (r *failingSaveRepo) Save(ctx context.Context, report *triage.Report) (*triage.Report, error) {
	if report.ID != "" {
		return nil, r.err
	}
	return r.MemoryRepository.Save(ctx, report)
}

var errClassifierDown = errors.New("classifier exploded")
