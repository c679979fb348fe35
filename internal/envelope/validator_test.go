package envelope

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

type fakeTransitions map[string][]string

func (f fakeTransitions) Known(stage string) bool {
	_, ok := f[stage]
	return ok
}

func (f fakeTransitions) IsSuccessor(stage, next string) bool {
	for _, s := range f[stage] {
		if s == next {
			return true
		}
	}
	return false
}

var table = fakeTransitions{
	"clarify":  {"rewrite"},
	"rewrite":  {"finalize"},
	"finalize": nil,
}

func validCandidate() map[string]any {
	return map[string]any{
		"stage":       "clarify",
		"ok":          true,
		"code":        "ok",
		"message":     "  prompt is clear ",
		"data":        map[string]any{"score": 0.1},
		"next_action": "rewrite",
	}
}

func TestValidateNormalizes(t *testing.T) {
	env, err := Validate("clarify", validCandidate(), table)
	require.NoError(t, err)

	want := &domain.Envelope{
		Stage:      "clarify",
		OK:         true,
		Code:       domain.CodeOK,
		Message:    "prompt is clear",
		Data:       map[string]any{"score": 0.1},
		NextAction: "rewrite",
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateTerminalMarker(t *testing.T) {
	c := validCandidate()
	c["stage"] = "finalize"
	c["next_action"] = "done"

	env, err := Validate("finalize", c, table)
	require.NoError(t, err)
	assert.Equal(t, domain.NextActionDone, env.NextAction)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing stage", func(c map[string]any) { delete(c, "stage") }, "stage"},
		{"wrong stage", func(c map[string]any) { c["stage"] = "rewrite" }, "stage"},
		{"ok not bool", func(c map[string]any) { c["ok"] = "yes" }, "ok"},
		{"missing code", func(c map[string]any) { delete(c, "code") }, "code"},
		{"empty code on failure", func(c map[string]any) { c["ok"] = false; c["code"] = "" }, "code"},
		{"unknown code", func(c map[string]any) { c["code"] = "FINE" }, "code"},
		{"failure code with ok", func(c map[string]any) { c["code"] = "REJECTED" }, "code"},
		{"success code without ok", func(c map[string]any) { c["ok"] = false }, "code"},
		{"message not string", func(c map[string]any) { c["message"] = 42.0 }, "message"},
		{"missing data", func(c map[string]any) { delete(c, "data") }, "data"},
		{"data not object", func(c map[string]any) { c["data"] = []any{1.0} }, "data"},
		{"next_action not string", func(c map[string]any) { c["next_action"] = true }, "next_action"},
		{"next_action unknown", func(c map[string]any) { c["next_action"] = "teleport" }, "next_action"},
		{"next_action not successor", func(c map[string]any) { c["next_action"] = "finalize" }, "next_action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCandidate()
			tc.mutate(c)
			_, err := Validate("clarify", c, table)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateReservedCodes(t *testing.T) {
	for _, code := range []string{
		"ORDER_VIOLATION", "session_closed", "UNKNOWN_STAGE", "INVALID_REQUEST",
		"EYE_ERROR", "EYE_TIMEOUT", "ROUTING_NOT_CONFIGURED", "INTERNAL_ERROR",
	} {
		c := validCandidate()
		c["ok"] = false
		c["code"] = code
		delete(c, "next_action")

		_, err := Validate("clarify", c, table)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, code)
		assert.Equal(t, "code", verr.Field)
		assert.Contains(t, verr.Reason, "reserved")
	}
}

func TestValidateFailureMayPointBack(t *testing.T) {
	c := validCandidate()
	c["stage"] = "rewrite"
	c["ok"] = false
	c["code"] = "NEEDS_CLARIFICATION"
	c["next_action"] = "clarify"

	env, err := Validate("rewrite", c, table)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeNeedsClarification, env.Code)
	assert.Equal(t, "clarify", env.NextAction)
}

func TestValidateNil(t *testing.T) {
	_, err := Validate("clarify", nil, table)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "envelope", verr.Field)
}

func TestDecode(t *testing.T) {
	got, err := Decode("Here you go:\n```json\n{\"stage\":\"clarify\",\"ok\":true}\n```")
	require.NoError(t, err)
	assert.Equal(t, "clarify", got["stage"])

	_, err = Decode("no json here")
	assert.Error(t, err)

	_, err = Decode("{not json}")
	assert.Error(t, err)
}
