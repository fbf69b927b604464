package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceType_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ResourceType
		valid bool
	}{
		{name: "name coins", input: `"Coins"`, want: Coins, valid: true},
		{name: "name rolls", input: `"Rolls"`, want: Rolls, valid: true},
		{name: "number", input: `1`, want: Rolls, valid: true},
		{name: "unknown name", input: `"Gems"`, want: -1, valid: false},
		{name: "unknown number", input: `7`, want: 7, valid: false},
		{name: "wrong case", input: `"coins"`, want: -1, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ResourceType
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}
}

func TestResourceType_UnmarshalJSON_Invalid(t *testing.T) {
	var got ResourceType
	assert.Error(t, json.Unmarshal([]byte(`true`), &got))
}

func TestResourceType_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Type ResourceType `json:"type"`
	}{Type: Coins})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Coins"}`, string(data))
}
