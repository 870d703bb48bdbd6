package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
	"github.com/otherjamesbrown/relief/pkg/triage/extraction"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, c classification.Classifier, e extraction.Extractor, opts ...Option) (*Pipeline, *triage.MemoryRepository) {
	t.Helper()
	repo := triage.NewMemoryRepository()
	base := []Option{
		WithLogger(logging.NewNopLogger()),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(repo, c, e, append(base, opts...)...), repo
}

func seed(t *testing.T, repo triage.Repository, text string) *triage.Report {
	t.Helper()
	r, err := repo.Save(context.Background(), triage.NewReport(text, triage.Source{Platform: triage.PlatformTwitter}, nil))
	require.NoError(t, err)
	return r
}

func TestProcess_Success(t *testing.T) {
	p, repo := newTestPipeline(t, classification.NewRuleClassifier(), extraction.New(extraction.WithLogger(logging.NewNopLogger())))
	r := seed(t, repo, "URGENT need help now, trapped at 123 Main St, call 555-123-4567")

	got, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)

	assert.Equal(t, triage.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, "urgent need help now, trapped at 123 main st, call 555 123 4567", got.ProcessedText)
	assert.True(t, got.Classification.IsHelpRequest)
	assert.Equal(t, triage.UrgencyHigh, got.Classification.Urgency)
	assert.Equal(t, 0.9, got.Classification.Confidence)
	assert.Equal(t, []string{"5551234567"}, got.ExtractedDetails.Contacts.Phones)
	assert.Equal(t, triage.HelpTypeRescue, got.ExtractedDetails.HelpType)
	assert.Equal(t, []triage.EventTimestamp{{EventType: triage.EventProcessed, EventTime: fixedNow}}, got.ExtractedDetails.Timestamps)
	assert.Empty(t, got.ProcessingErrors)

	// insert, claim, save
	assert.Equal(t, r.Version+2, got.Version)

	stored, err := repo.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestProcess_ClassifierErrorMarksFailed(t *testing.T) {
	c := &mockClassifier{}
	c.On("Classify", mock.Anything, mock.Anything).Return(nil, errClassifierDown)
	e := &mockExtractor{}

	p, repo := newTestPipeline(t, c, e)
	r := seed(t, repo, "need water")

	got, err := p.Process(context.Background(), r.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errClassifierDown)

	var pe *rferrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, triage.StageClassify, pe.Stage)
	assert.Equal(t, rferrors.ErrStageFailure, pe.Code)

	require.NotNil(t, got)
	assert.Equal(t, triage.StatusFailed, got.ProcessingStatus)
	require.Len(t, got.ProcessingErrors, 1)
	assert.Equal(t, triage.ProcessingError{
		Stage:     triage.StageClassify,
		Message:   errClassifierDown.Error(),
		Timestamp: fixedNow,
	}, got.ProcessingErrors[0])
	assert.Equal(t, r.Version+2, got.Version)

	e.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	c.AssertExpectations(t)
}

func TestProcess_ExtractorErrorMarksFailed(t *testing.T) {
	e := &mockExtractor{}
	e.On("Extract", mock.Anything, "help me").Return(triage.ExtractedDetails{}, errors.New("extractor broke"))

	p, repo := newTestPipeline(t, classification.NewRuleClassifier(), e)
	r := seed(t, repo, "help me")

	got, err := p.Process(context.Background(), r.ID)
	assert.True(t, rferrors.IsStageFailure(err))
	require.Len(t, got.ProcessingErrors, 1)
	assert.Equal(t, triage.StageExtract, got.ProcessingErrors[0].Stage)
	e.AssertExpectations(t)
}

func TestProcess_NotFound(t *testing.T) {
	p, _ := newTestPipeline(t, classification.NewRuleClassifier(), &mockExtractor{})

	_, err := p.Process(context.Background(), "missing")
	assert.True(t, rferrors.IsNotFound(err))
}

func TestProcess_AlreadyProcessing(t *testing.T) {
	e := &mockExtractor{}
	p, repo := newTestPipeline(t, classification.NewRuleClassifier(), e)
	r := seed(t, repo, "help")

	_, err := repo.Claim(context.Background(), r.ID, triage.StatusPending)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), r.ID)
	assert.True(t, rferrors.IsInvalidState(err))
	e.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestProcess_ReprocessIsIdempotent(t *testing.T) {
	p, repo := newTestPipeline(t, classification.NewRuleClassifier(), extraction.New(extraction.WithLogger(logging.NewNopLogger())))
	r := seed(t, repo, "need food and water at 9 Elm Rd, contact Maria")

	first, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ProcessedText, second.ProcessedText)
	assert.Equal(t, first.Classification, second.Classification)
	assert.Equal(t, first.ExtractedDetails, second.ExtractedDetails)
	assert.Equal(t, first.ProcessingErrors, second.ProcessingErrors)
	assert.Equal(t, first.Version+2, second.Version)
}

func TestProcess_RetryAfterFailureKeepsErrors(t *testing.T) {
	calls := 0
	c := funcClassifier(func(ctx context.Context, text string) (*classification.Result, error) {
		calls++
		if calls == 1 {
			return nil, errClassifierDown
		}
		return &classification.Result{Classification: classification.ClassifyRules(text)}, nil
	})
	p, repo := newTestPipeline(t, c, extraction.New(extraction.WithLogger(logging.NewNopLogger())))
	r := seed(t, repo, "help")

	_, err := p.Process(context.Background(), r.ID)
	require.Error(t, err)

	got, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusCompleted, got.ProcessingStatus)
	assert.Len(t, got.ProcessingErrors, 1)
}

func TestProcess_CancelledDuringStageStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := funcClassifier(func(ctx context.Context, text string) (*classification.Result, error) {
		cancel()
		return nil, ctx.Err()
	})
	p, repo := newTestPipeline(t, c, &mockExtractor{})
	r := seed(t, repo, "help")

	_, err := p.Process(ctx, r.ID)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := repo.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusFailed, stored.ProcessingStatus)
}

func TestProcess_SaveFailurePropagates(t *testing.T) {
	saveErr := errors.New("disk full")
	repo := &failingSaveRepo{MemoryRepository: triage.NewMemoryRepository(), err: saveErr}
	p := New(repo, classification.NewRuleClassifier(), extraction.New(extraction.WithLogger(logging.NewNopLogger())),
		WithLogger(logging.NewNopLogger()))
	r := seed(t, repo, "help")

	_, err := p.Process(context.Background(), r.ID)
	assert.ErrorIs(t, err, saveErr)
	assert.False(t, rferrors.IsStageFailure(err))
}

func TestProcess_NilClassifierResult(t *testing.T) {
	c := &mockClassifier{}
	c.On("Classify", mock.Anything, mock.Anything).Return(nil, nil)
	p, repo := newTestPipeline(t, c, &mockExtractor{})
	r := seed(t, repo, "help")

	got, err := p.Process(context.Background(), r.ID)
	assert.True(t, rferrors.IsStageFailure(err))
	assert.Equal(t, triage.StatusFailed, got.ProcessingStatus)
}

func TestProcess_PublishesEvents(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, observability.ChannelReportCompleted, mock.MatchedBy(func(e *observability.ReportEvent) bool {
		return e.Status == string(triage.StatusCompleted) && e.HighPriority
	})).Return(nil).Once()

	p, repo := newTestPipeline(t, classification.NewRuleClassifier(),
		extraction.New(extraction.WithLogger(logging.NewNopLogger())), WithPublisher(pub))
	r := seed(t, repo, "emergency, need rescue")

	_, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestProcess_PublishFailureIsNotFatal(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	p, repo := newTestPipeline(t, classification.NewRuleClassifier(),
		extraction.New(extraction.WithLogger(logging.NewNopLogger())), WithPublisher(pub))
	r := seed(t, repo, "help")

	got, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusCompleted, got.ProcessingStatus)
}

func TestProcess_RecordsMetrics(t *testing.T) {
	c := &mockClassifier{}
	c.On("Classify", mock.Anything, mock.Anything).Return(&classification.Result{
		Classification: classification.Fallback(),
		Fallback:       true,
		FallbackReason: classification.ErrTimeout,
	}, nil)

	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)
	p, repo := newTestPipeline(t, c, extraction.New(extraction.WithLogger(logging.NewNopLogger())), WithMetrics(metrics))
	r := seed(t, repo, "anyone out there")

	got, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyNeedsReview, got.Classification.Urgency)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ClassifierFallbacksTotal.WithLabelValues("mock", classification.ErrTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReportsProcessedTotal.WithLabelValues(observability.OutcomeCompleted)))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.StageSeconds))
}

func TestProcess_RawNLPResponseStored(t *testing.T) {
	c := &mockClassifier{}
	c.On("Classify", mock.Anything, mock.Anything).Return(&classification.Result{
		Classification: triage.Classification{IsHelpRequest: true, Urgency: triage.UrgencyLow, Confidence: 0.4},
		Raw:            `{"isHelpRequest":true,"urgency":"Low","confidence":0.4}`,
	}, nil)
	p, repo := newTestPipeline(t, c, extraction.New(extraction.WithLogger(logging.NewNopLogger())))
	r := seed(t, repo, "help")

	got, err := p.Process(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"isHelpRequest":true,"urgency":"Low","confidence":0.4}`, got.ExtractedDetails.RawNLPResponse)
	assert.NotNil(t, got.Classification.Categories)
}
