package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: one save
steps:
  - save: { identifier: CNA-1, rating: 4 }
assertions:
  - type: trace_count
    action: save
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "save", s.Steps[0].Kind())
	assert.Equal(t, 4, s.Steps[0].Save.Rating)
	assert.Nil(t, s.Retry)
}

func TestParseScenario_Durations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: d
description: durations
retry: { max_retries: 2, initial_backoff: 30s, max_backoff: 4m }
steps:
  - advance: 90s
assertions:
  - type: trace_count
    action: advance
    count: 1
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.Retry.InitialBackoff)
	assert.Equal(t, 4*time.Minute, s.Retry.MaxBackoff)
	assert.Equal(t, 90*time.Second, s.Steps[0].Advance)
}

func TestStep_Kind(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		step Step
		want string
	}{
		{Step{Save: &SaveStep{}}, "save"},
		{Step{Sync: SyncNormal}, "sync"},
		{Step{Sync: SyncForce}, "force_sync"},
		{Step{Online: &yes}, "online"},
		{Step{Online: &no}, "offline"},
		{Step{Offline: &yes}, "offline"},
		{Step{Offline: &no}, "online"},
		{Step{Advance: time.Second}, "advance"},
		{Step{Remote: &RemoteStep{Recover: true}}, "remote"},
		{Step{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.step.Kind())
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "assertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: x\nsteps: [{sync: normal}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps: [{sync: normal}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "description is required",
		},
		{
			name:    "unknown storage",
			yaml:    "name: x\ndescription: x\nstorage: redis\nsteps: [{sync: normal}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: `unknown storage "redis"`,
		},
		{
			name:    "bad retry",
			yaml:    "name: x\ndescription: x\nretry: {max_retries: 0, initial_backoff: 1s, max_backoff: 1s}\nsteps: [{sync: normal}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "retry policy",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: x\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal, advance: 1s}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "exactly one action is required, got 2",
		},
		{
			name:    "empty step",
			yaml:    "name: x\ndescription: x\nsteps: [{expect: {success: 1}}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "exactly one action is required, got 0",
		},
		{
			name:    "save without rating",
			yaml:    "name: x\ndescription: x\nsteps: [{save: {identifier: A}}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "save needs identifier and rating",
		},
		{
			name:    "unknown sync mode",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: eager}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: `unknown sync mode "eager"`,
		},
		{
			name:    "empty remote",
			yaml:    "name: x\ndescription: x\nsteps: [{remote: {status: 500}}]\nassertions: [{type: trace_count, action: sync}]\n",
			wantErr: "remote needs",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal}]\nassertions: [{type: eventually}]\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "final_state bad table",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal}]\nassertions: [{type: final_state, table: users, expect: {a: 1}}]\n",
			wantErr: "table must be",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal}]\nassertions: [{type: final_state, table: counts}]\n",
			wantErr: "expect is required",
		},
		{
			name:    "trace_order without actions",
			yaml:    "name: x\ndescription: x\nsteps: [{sync: normal}]\nassertions: [{type: trace_order}]\n",
			wantErr: "actions list is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Files(t *testing.T) {
	for _, name := range []string{"offline_then_online", "retry_with_backoff", "fallback_abandon_force"} {
		s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name)
	}

	_, err := LoadScenario("testdata/scenarios/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
