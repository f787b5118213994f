package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/collab/internal/models"
)

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Result
	}{
		{
			name: "plain object",
			raw:  `{"has_response": false}`,
			want: Result{"has_response": false},
		},
		{
			name: "string result holding json",
			raw:  `{"type":"result","result":"{\"manifest_path\":\"/tmp/m.md\"}"}`,
			want: Result{"manifest_path": "/tmp/m.md"},
		},
		{
			name: "object result",
			raw:  `{"type":"result","result":{"approved":true}}`,
			want: Result{"approved": true},
		},
		{
			name: "string result not json",
			raw:  `{"type":"result","result":"Created https://github.com/o/r/pull/7"}`,
			want: Result{"type": "result", "result": "Created https://github.com/o/r/pull/7"},
		},
		{
			name: "string result json but not object",
			raw:  `{"type":"result","result":"[1,2]"}`,
			want: Result{"type": "result", "result": "[1,2]"},
		},
		{
			name: "only one layer unwrapped",
			raw:  `{"result":"{\"result\":\"{\\\"deep\\\":true}\"}"}`,
			want: Result{"result": `{"deep":true}`},
		},
		{
			name: "surrounding whitespace",
			raw:  "\n  {\"ok\":true}\n",
			want: Result{"ok": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unwrap([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnwrap_Errors(t *testing.T) {
	_, err := Unwrap(nil)
	assert.ErrorIs(t, err, errEmptyOutput)

	_, err = Unwrap([]byte("{{{"))
	assert.ErrorIs(t, err, errNotJSON)

	_, err = Unwrap([]byte(`"just a string"`))
	assert.ErrorIs(t, err, errNotObject)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, models.InvocationOK, OutcomeOf(nil))
	assert.Equal(t, models.InvocationTimeout, OutcomeOf(&Error{Kind: KindTimeout}))
	assert.Equal(t, models.InvocationExit, OutcomeOf(&Error{Kind: KindExit}))
	assert.Equal(t, models.InvocationMalformed, OutcomeOf(&Error{Kind: KindEmpty}))
	assert.Equal(t, models.InvocationFailed, OutcomeOf(errors.New("boom")))
}

func TestResultAccessors(t *testing.T) {
	r := Result{"s": "x", "b": true, "n": 3.0}
	assert.Equal(t, "x", r.String("s"))
	assert.Equal(t, "", r.String("n"))
	assert.True(t, r.Bool("b"))
	assert.False(t, r.Bool("s"))
	assert.NotContains(t, r, "missing")
}
