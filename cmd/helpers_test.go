package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
)

// testEnv shares one in-memory runtime across every command it runs.
type testEnv struct {
	cfg  *config.Config
	rt   *Runtime
	deps *ServiceCommandDeps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	rt := NewMemoryRuntime(cfg, logging.NewNopLogger())
	return newTestEnvWithRuntime(cfg, rt)
}

// newFailingTestEnv wires a classifier that always errors.
func newFailingTestEnv(t *testing.T, classifyErr error) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	rt := &Runtime{Config: cfg, Logger: logging.NewNopLogger()}
	rt.wire(triage.NewMemoryRepository(), failingClassifier{err: classifyErr}, nil)
	return newTestEnvWithRuntime(cfg, rt)
}

func newTestEnvWithRuntime(cfg *config.Config, rt *Runtime) *testEnv {
	env := &testEnv{cfg: cfg, rt: rt}
	env.deps = &ServiceCommandDeps{
		LoadConfig: func() (*config.Config, error) { return env.cfg, nil },
		OpenRuntime: func(context.Context, *config.Config) (*Runtime, error) {
			return env.rt, nil
		},
	}
	return env
}

// run executes c with args and returns its stdout.
func run(t *testing.T, c *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetArgs(args)
	c.SetOut(&out)
	c.SetErr(io.Discard)
	c.SetIn(strings.NewReader(stdin))
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

// createReport creates a report through the CLI and returns it.
func (e *testEnv) createReport(t *testing.T, args ...string) *triage.Report {
	t.Helper()
	prev := e.cfg.OutputFormat
	e.cfg.OutputFormat = config.OutputFormatJSON
	defer func() { e.cfg.OutputFormat = prev }()

	out, err := run(t, NewReportCommand(e.deps), "", append([]string{"create"}, args...)...)
	require.NoError(t, err)

	var r triage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	return &r
}

type failingClassifier struct {
	err error
}

func (f failingClassifier) Name() string { return "failing" }

func (f failingClassifier) Classify(ctx context.Context, text string) (*classification.Result, error) {
	if f.err == nil {
		return nil, errors.New("classifier failed")
	}
	return nil, f.err
}
