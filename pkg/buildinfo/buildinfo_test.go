package buildinfo

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestGet_ReturnsCorrectDefaults(t *testing.T) {
	info := Get("relief")

	if info.ServiceName != "relief" {
		t.Errorf("expected ServiceName='relief', got %q", info.ServiceName)
	}
	if info.Version != "dev" {
		t.Errorf("expected Version='dev', got %q", info.Version)
	}
	if info.Commit != "unknown" {
		t.Errorf("expected Commit='unknown', got %q", info.Commit)
	}
	if info.BuildTime != "unknown" {
		t.Errorf("expected BuildTime='unknown', got %q", info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected GoVersion=%q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestString_DefaultFormat(t *testing.T) {
	if got, want := String(), "dev (unknown, unknown)"; got != want {
		t.Errorf("expected String()=%q, got %q", want, got)
	}
}

func TestStampedValues(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "v0.3.0"
	Commit = "4c1e9a2"
	BuildTime = "2026-10-01T09:00:00Z"

	if got, want := String(), "v0.3.0 (4c1e9a2, 2026-10-01T09:00:00Z)"; got != want {
		t.Errorf("expected String()=%q, got %q", want, got)
	}
	if got, want := UserAgent(), "relief/v0.3.0"; got != want {
		t.Errorf("expected UserAgent()=%q, got %q", want, got)
	}
}

func TestInfo_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Get("relief"))
	if err != nil {
		t.Fatalf("failed to marshal Info: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}

	for _, key := range []string{"service_name", "version", "commit", "build_time", "go_version"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in JSON output", key)
		}
	}
	if len(decoded) != 5 {
		t.Errorf("expected 5 keys in JSON, got %d", len(decoded))
	}
}
