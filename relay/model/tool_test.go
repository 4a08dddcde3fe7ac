package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToolIndexFieldOmittedWhenNil(t *testing.T) {
	index := 0
	streaming := Tool{
		Id:       "call_123",
		Type:     "function",
		Function: Function{Name: "get_weather", Arguments: `{"location":"Paris"}`},
		Index:    &index,
	}

	data, err := json.Marshal(streaming)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, float64(0), got["index"])

	nonStreaming := Tool{
		Id:       "call_456",
		Type:     "function",
		Function: Function{Name: "send_email", Arguments: `{"to":"a@example.com"}`},
	}
	data, err = json.Marshal(nonStreaming)
	require.NoError(t, err)
	got = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &got))
	_, exists := got["index"]
	require.False(t, exists, "index must be omitted for non-streaming calls")
}

func TestArgumentsString(t *testing.T) {
	tests := []struct {
		name string
		args any
		want string
	}{
		{"string passthrough", `{"q":1}`, `{"q":1}`},
		{"nil empty", nil, ""},
		{"object marshaled", map[string]any{"q": 1}, `{"q":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Function{Arguments: tt.args}
			require.Equal(t, tt.want, f.ArgumentsString())
		})
	}
}

func TestToolRoundTripKeepsParameters(t *testing.T) {
	raw := `{"type":"function","function":{"name":"lookup","description":"d","parameters":{"type":"object","properties":{"id":{"type":"string"}}}}}`
	var tool Tool
	require.NoError(t, json.Unmarshal([]byte(raw), &tool))
	require.Equal(t, "lookup", tool.Function.Name)

	params, ok := tool.Function.Parameters.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "object", params["type"])
}
