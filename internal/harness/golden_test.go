package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"optimistic_create", "reconnect_resume"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestMarshalSnapshot_Format(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Step: 0, Direction: DirClient, Kind: "reset"})

	data, err := MarshalSnapshot("tiny", r)
	require.NoError(t, err)

	want := `{
  "scenario_name": "tiny",
  "trace": [
    {
      "step": 0,
      "direction": "client",
      "kind": "reset"
    }
  ],
  "state": [],
  "pending": 0
}
`
	assert.Equal(t, want, string(data))
}
