package objects

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestCircuitState_StateAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state CircuitState
		want  CircuitStateName
	}{
		{
			name:  "zero value is closed",
			state: CircuitState{},
			want:  CircuitClosed,
		},
		{
			name: "open with future probe",
			state: CircuitState{
				Open:        true,
				OpenedAt:    lo.ToPtr(now.Add(-time.Minute)),
				NextProbeAt: lo.ToPtr(now.Add(time.Minute)),
			},
			want: CircuitOpen,
		},
		{
			name: "open with probe due reads half open",
			state: CircuitState{
				Open:        true,
				OpenedAt:    lo.ToPtr(now.Add(-2 * time.Minute)),
				NextProbeAt: lo.ToPtr(now.Add(-time.Second)),
			},
			want: CircuitHalfOpen,
		},
		{
			name: "probe due exactly now reads half open",
			state: CircuitState{
				Open:        true,
				NextProbeAt: lo.ToPtr(now),
			},
			want: CircuitHalfOpen,
		},
		{
			name: "within half open session",
			state: CircuitState{
				Open:          true,
				HalfOpenUntil: lo.ToPtr(now.Add(time.Minute)),
				NextProbeAt:   lo.ToPtr(now.Add(time.Hour)),
			},
			want: CircuitHalfOpen,
		},
		{
			name: "half open session expired, probe not due",
			state: CircuitState{
				Open:          true,
				HalfOpenUntil: lo.ToPtr(now.Add(-time.Second)),
				NextProbeAt:   lo.ToPtr(now.Add(time.Hour)),
			},
			want: CircuitOpen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.StateAt(now))
		})
	}
}

func TestEndpoint_UpstreamModel(t *testing.T) {
	ep := Endpoint{
		ModelMappings: []ModelMapping{
			{From: "gpt-4o", To: "gpt-4o-2024-11-20"},
		},
	}

	assert.Equal(t, "gpt-4o-2024-11-20", ep.UpstreamModel("gpt-4o"))
	assert.Equal(t, "claude-sonnet-4", ep.UpstreamModel("claude-sonnet-4"))
}

func TestEndpoint_ServesModel(t *testing.T) {
	ep := Endpoint{Models: []string{"gpt-4o", "gpt-4o-mini"}}

	assert.True(t, ep.ServesModel("gpt-4o"))
	assert.False(t, ep.ServesModel("claude-sonnet-4"))
}

func TestCredential_SupportsSignature(t *testing.T) {
	unrestricted := Credential{}
	assert.True(t, unrestricted.SupportsSignature("openai:chat"))

	restricted := Credential{Signatures: []string{"claude:cli"}}
	assert.True(t, restricted.SupportsSignature("claude:cli"))
	assert.False(t, restricted.SupportsSignature("claude:chat"))
}
