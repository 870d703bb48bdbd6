package cmd

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/relief/config"
	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/triage"
)

func TestProcessCommand_Structure(t *testing.T) {
	cmd := NewProcessCommand(nil)

	assert.Equal(t, "process <report-id>", cmd.Use)
	assert.NotEmpty(t, cmd.Long)

	all, _, err := cmd.Find([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, "all", all.Use)
	assert.NotNil(t, all.Flags().Lookup("concurrency"))
}

func TestProcessOne(t *testing.T) {
	env := newTestEnv(t)
	r := env.createReport(t, "--text", "Need food and water for 3 families at 40 Pine Road")
	env.cfg.OutputFormat = config.OutputFormatJSON

	out, err := run(t, NewProcessCommand(env.deps), "", r.ID)
	require.NoError(t, err)

	var got triage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, triage.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, triage.UrgencyMedium, got.Classification.Urgency)
	assert.True(t, got.Classification.IsHelpRequest)
	assert.NotEmpty(t, got.ProcessedText)

	// Completed reports may be processed again.
	out, err = run(t, NewProcessCommand(env.deps), "", r.ID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, triage.StatusCompleted, got.ProcessingStatus)
	assert.Greater(t, got.Version, r.Version)
}

func TestProcessOne_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := run(t, NewProcessCommand(env.deps), "", "does-not-exist")
	require.Error(t, err)
	assert.True(t, rferrors.IsNotFound(err))
}

func TestProcessOne_RequiresID(t *testing.T) {
	env := newTestEnv(t)

	_, err := run(t, NewProcessCommand(env.deps), "")
	assert.Error(t, err)
}

func TestProcessOne_Failure(t *testing.T) {
	env := newFailingTestEnv(t, errors.New("HTTP 503 from classifier"))
	r := env.createReport(t, "--text", "need insulin")

	out, err := run(t, NewProcessCommand(env.deps), "", r.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processing failed at classify")

	var pe *rferrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, rferrors.ErrServiceUnavailable, pe.Code)

	// The failed report is still shown.
	assert.Contains(t, out, "Failed")
	assert.Contains(t, out, "Suggested action:")

	stored, err := env.rt.Service.Get(t.Context(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusFailed, stored.ProcessingStatus)
	require.Len(t, stored.ProcessingErrors, 1)
	assert.Equal(t, triage.StageClassify, stored.ProcessingErrors[0].Stage)
}

func TestProcessAll(t *testing.T) {
	env := newTestEnv(t)
	for _, text := range []string{"urgent rescue needed", "need shelter", "all good here", "help, no power"} {
		env.createReport(t, "--text", text)
	}
	env.cfg.OutputFormat = config.OutputFormatJSON

	out, err := run(t, NewProcessCommand(env.deps), "", "all", "--concurrency", "2")
	require.NoError(t, err)

	var result batchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 4, result.Attempted)
	assert.Equal(t, 4, result.Completed)
	assert.Equal(t, 0, result.Failed)
	assert.InDelta(t, 100.0, result.Percent, 0.001)

	// Nothing is left Pending.
	out, err = run(t, NewProcessCommand(env.deps), "", "all")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 0, result.Attempted)
}

func TestProcessAll_IsolatesFailures(t *testing.T) {
	env := newFailingTestEnv(t, errors.New("model crashed"))
	env.createReport(t, "--text", "one")
	env.createReport(t, "--text", "two")

	out, err := run(t, NewProcessCommand(env.deps), "", "all")
	require.NoError(t, err, "per-report failures do not fail the batch")
	assert.Contains(t, out, "Attempted: 2")
	assert.Contains(t, out, "relief report list --status Failed")

	stats, err := env.rt.Service.GetStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[triage.StatusFailed])
}

func TestProcessAll_Empty(t *testing.T) {
	env := newTestEnv(t)

	out, err := run(t, NewProcessCommand(env.deps), "", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "No Pending reports.")
}

func TestProcessAll_NegativeConcurrency(t *testing.T) {
	env := newTestEnv(t)

	_, err := run(t, NewProcessCommand(env.deps), "", "all", "--concurrency", "-1")
	assert.True(t, rferrors.IsValidation(err))
}
