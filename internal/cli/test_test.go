package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: reset_only
description: "A reset installs the snapshot"
steps:
  - server: reset_response
    batch: b1
    events:
      - { op: create, id: 1, name: apples, value: 3 }
assertions:
  - type: final_state
    counters:
      - { id: 1, name: apples, value: 3 }
  - type: acked
    batches: [b1]
`

const failingScenario = `name: wrong_value
description: "Asserts a value the server never sent"
steps:
  - server: reset_response
    batch: b1
    events:
      - { op: create, id: 1, name: apples, value: 3 }
assertions:
  - type: final_state
    counters:
      - { id: 1, name: apples, value: 4 }
`

func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}))
	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentDir(t *testing.T) {
	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}), "/nonexistent/scenarios")
	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "scenarios directory not found")
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "json"}),
		filepath.Join("..", "harness", "testdata", "scenarios"),
		"--golden", filepath.Join("..", "harness", "testdata", "golden"),
	)
	require.NoError(t, wait(t, done), buf.String())

	var result TestResult
	decodeData(t, buf, &result)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, result.Total, result.Passed)
	assert.Positive(t, result.Total)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"reset_only.yaml":  passingScenario,
		"wrong_value.yaml": failingScenario,
	})

	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}), dir)
	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "✓ reset_only")
	assert.Contains(t, out, "✗ wrong_value")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"reset_only.yaml":  passingScenario,
		"wrong_value.yaml": failingScenario,
	})

	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "json"}), dir, "--filter", "reset_*")
	require.NoError(t, wait(t, done))

	var result TestResult
	decodeData(t, buf, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "reset_only", result.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenMatchGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reset_only.yaml": passingScenario})

	_, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, wait(t, done))
	_, err := os.Stat(filepath.Join(dir, "golden", "reset_only.golden"))
	require.NoError(t, err)

	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, wait(t, done))
	var result TestResult
	decodeData(t, buf, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reset_only.yaml": passingScenario})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "reset_only.golden"), []byte("{}\n"), 0o644))

	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}), dir)
	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "does not match golden file")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	buf, done := execute(context.Background(), NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, wait(t, done))
	assert.Contains(t, buf.String(), "No scenarios found.")
}
