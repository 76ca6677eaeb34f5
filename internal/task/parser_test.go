package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultCleanBody(t *testing.T) {
	out := []byte(`{"result":"done","session_id":"abc123","is_error":false,"duration_ms":4200,"num_turns":3}`)
	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Result)
	assert.Equal(t, "abc123", res.SessionID)
	assert.False(t, res.IsError)
	assert.EqualValues(t, 4200, res.DurationMS)
	assert.Equal(t, 3, res.NumTurns)
}

func TestParseResultStripsBOMAndBanner(t *testing.T) {
	out := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Starting agent...\nwarming up\n"+
		`{"result":"ok","session_id":"abc123","is_error":false,"duration_ms":10,"num_turns":1}`)...)
	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Result)
}

func TestParseResultFallsBackToLines(t *testing.T) {
	// The first brace belongs to a progress object; the whole-body parse
	// fails, and the line scan must find the object carrying "result".
	out := []byte(`{"type":"progress","step":1}
{"type":"progress","step":2}
{"result":"answer","session_id":"abc123","is_error":false,"duration_ms":99,"num_turns":2}
trailing noise`)
	res, err := ParseResult(out)
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Result)
	assert.Equal(t, 2, res.NumTurns)
}

func TestParseResultNoJSON(t *testing.T) {
	_, err := ParseResult([]byte("the agent crashed before producing output"))
	assert.Error(t, err)
}

func TestParseResultRoundTrip(t *testing.T) {
	orig := &Result{Result: "all tests pass", SessionID: "abc123", DurationMS: 1234, NumTurns: 7}
	body, err := json.Marshal(orig)
	require.NoError(t, err)

	parsed, err := ParseResult(body)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestParseStreamLine(t *testing.T) {
	sl := ParseStreamLine([]byte(`{"type":"completion","session_id":"abc","finalText":"done","durationMs":500,"numTurns":2}`))
	require.NotNil(t, sl)
	assert.Equal(t, "completion", sl.Type)
	assert.Equal(t, "done", sl.FinalText)
	assert.EqualValues(t, 500, sl.DurationMS)
	assert.Equal(t, 2, sl.NumTurns)

	assert.Nil(t, ParseStreamLine([]byte("")))
	assert.Nil(t, ParseStreamLine([]byte("plain text chatter")))
	assert.Nil(t, ParseStreamLine([]byte("{not json")))
}

func TestClassifyLine(t *testing.T) {
	act := ClassifyLine("[Edit] (src/main.go)")
	require.NotNil(t, act)
	assert.Equal(t, "tool_start", act.Type)
	assert.Equal(t, "Edit", act.Tool)
	assert.Equal(t, "src/main.go", act.Detail)

	act = ClassifyLine("Read 120 lines")
	require.NotNil(t, act)
	assert.Equal(t, "status", act.Type)

	act = ClassifyLine("Succeeded. File edited.")
	require.NotNil(t, act)
	assert.Equal(t, "status", act.Type)

	act = ClassifyLine("Error: connection refused")
	require.NotNil(t, act)
	assert.Equal(t, "error", act.Type)

	act = ClassifyLine("thinking about the problem")
	require.NotNil(t, act)
	assert.Equal(t, "raw", act.Type)

	assert.Nil(t, ClassifyLine(""))
	assert.Nil(t, ClassifyLine("   "))
	assert.Nil(t, ClassifyLine("{"))
}
