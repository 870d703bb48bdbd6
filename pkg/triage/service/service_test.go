package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
	"github.com/otherjamesbrown/relief/pkg/triage/extraction"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
)

type capturePublisher struct {
	mu       sync.Mutex
	channels []string
}

func (c *capturePublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func newTestService(t *testing.T, opts ...Option) (*Service, *triage.MemoryRepository) {
	t.Helper()
	repo := triage.NewMemoryRepository()
	nop := logging.NewNopLogger()
	p := pipeline.New(repo, classification.NewRuleClassifier(),
		extraction.New(extraction.WithLogger(nop)), pipeline.WithLogger(nop))
	return New(p, Config{}, append([]Option{WithLogger(nop)}, opts...)...), repo
}

func TestCreateItem(t *testing.T) {
	svc, _ := newTestService(t)

	r, err := svc.CreateItem(context.Background(), CreateItemInput{
		RawText: "  Need water at 5 Oak St  ",
		Source:  triage.Source{Platform: "twitter", PostID: " 99 "},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Need water at 5 Oak St", r.RawText)
	assert.Equal(t, triage.PlatformTwitter, r.Source.Platform)
	assert.Equal(t, "99", r.Source.PostID)
	assert.Equal(t, triage.StatusPending, r.ProcessingStatus)
	assert.Empty(t, r.ProcessedText)
	assert.Empty(t, r.ProcessingErrors)
	assert.Equal(t, int64(1), r.Version)
}

func TestCreateItem_DefaultsPlatformAndMime(t *testing.T) {
	svc, _ := newTestService(t)

	r, err := svc.CreateItem(context.Background(), CreateItemInput{
		RawText: "flooded basement",
		Image:   &triage.ImageSource{Data: []byte{0xff, 0xd8}},
	})
	require.NoError(t, err)
	assert.Equal(t, triage.PlatformUnknown, r.Source.Platform)
	require.NotNil(t, r.Image)
	assert.Equal(t, triage.DefaultImageMimeType, r.Image.MimeType)
}

func TestCreateItem_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateItemInput
		field string
	}{
		{"empty", CreateItemInput{RawText: ""}, "rawText"},
		{"blank", CreateItemInput{RawText: " \t\n "}, "rawText"},
		{"too long", CreateItemInput{RawText: strings.Repeat("a", triage.MaxRawTextLength+1)}, "rawText"},
		{"unknown platform", CreateItemInput{RawText: "help", Source: triage.Source{Platform: "Myspace"}}, "source.platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService(t)

			_, err := svc.CreateItem(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, rferrors.IsValidation(err))

			var ve *rferrors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)

			n, err := repo.Count(context.Background(), triage.Filter{})
			require.NoError(t, err)
			assert.Zero(t, n, "nothing is persisted on validation failure")
		})
	}
}

func TestCreateItem_MaxLengthCountsRunes(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateItem(context.Background(), CreateItemInput{RawText: strings.Repeat("é", triage.MaxRawTextLength)})
	assert.NoError(t, err)
}

func TestCreateItem_DuplicatePost(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)
	svc, _ := newTestService(t, WithMetrics(metrics))
	in := CreateItemInput{RawText: "help", Source: triage.Source{Platform: triage.PlatformReddit, PostID: "abc"}}

	_, err := svc.CreateItem(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.CreateItem(context.Background(), in)
	assert.True(t, rferrors.IsAlreadyExists(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReportsCreatedTotal.WithLabelValues("Reddit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReportsRejectedTotal.WithLabelValues("duplicate")))
}

func TestCreateItem_PublishesCreated(t *testing.T) {
	pub := &capturePublisher{}
	svc, _ := newTestService(t, WithPublisher(pub))

	_, err := svc.CreateItem(context.Background(), CreateItemInput{RawText: "help"})
	require.NoError(t, err)
	assert.Equal(t, []string{observability.ChannelReportCreated}, pub.channels)
}

func TestProcessAndStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	urgent, err := svc.CreateItem(ctx, CreateItemInput{RawText: "URGENT need help now"})
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, CreateItemInput{RawText: "need blankets"})
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, CreateItemInput{RawText: "sunny and calm"})
	require.NoError(t, err)

	got, err := svc.Process(ctx, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyHigh, got.Classification.Urgency)

	result, err := svc.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[triage.StatusCompleted])
	assert.Equal(t, 1, stats.ByUrgency[triage.UrgencyHigh])
	assert.Equal(t, 1, stats.ByUrgency[triage.UrgencyMedium])
	assert.Equal(t, 1, stats.ByUrgency[triage.UrgencyLow])
	assert.Equal(t, 1, stats.Urgent)
	assert.Equal(t, 1, stats.HighPriority)

	urgentList, err := svc.Urgent(ctx, triage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, urgentList, 1)
	assert.Equal(t, urgent.ID, urgentList[0].ID)

	hp, err := svc.HighPriority(ctx, triage.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, hp, 1)
}

func TestProcess_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Process(context.Background(), "missing")
	assert.True(t, rferrors.IsNotFound(err))
}

func TestGetStats_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Len(t, stats.ByUrgency, len(triage.Urgencies))
	assert.Len(t, stats.ByStatus, len(triage.Statuses))
}

func TestListAndDeleteAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, p := range []triage.Platform{triage.PlatformWeb, triage.PlatformWeb, triage.PlatformFacebook} {
		_, err := svc.CreateItem(ctx, CreateItemInput{RawText: "help", Source: triage.Source{Platform: p}})
		require.NoError(t, err)
	}

	web, err := svc.List(ctx, triage.Filter{Platform: triage.PlatformWeb}, triage.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, web, 2)

	page, err := svc.List(ctx, triage.Filter{}, triage.FindOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = svc.List(ctx, triage.Filter{}, triage.FindOptions{Skip: -1})
	assert.True(t, rferrors.IsValidation(err))

	n, err := svc.DeleteAll(ctx, triage.Filter{Platform: triage.PlatformWeb})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.DeleteAll(ctx, triage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	empty, err := svc.List(ctx, triage.Filter{}, triage.FindOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestGet(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.CreateItem(context.Background(), CreateItemInput{RawText: "help"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.Get(context.Background(), "nope")
	assert.True(t, rferrors.IsNotFound(err))
}
