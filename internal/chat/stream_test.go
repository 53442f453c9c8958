package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDetectorAcrossChunks(t *testing.T) {
	d := NewStreamDetector()

	assert.Empty(t, d.Feed("Sure, creating it now. {\"funct"))
	assert.True(t, d.Pending())
	assert.Empty(t, d.Feed("ion\": \"createMenu\", \"params\": {\"title\": \"a } \\\""))
	assert.Empty(t, d.Feed("quoted\\\" ]\"}"))
	assert.True(t, d.Pending())

	calls := d.Feed("} and more text")
	require.Len(t, calls, 1)
	assert.Equal(t, "createMenu", calls[0].Function)
	assert.Equal(t, `a } "quoted" ]`, calls[0].Params["title"])
	assert.False(t, d.Pending())
	assert.Contains(t, d.Text(), "and more text")
}

func TestStreamDetectorReportsOnce(t *testing.T) {
	d := NewStreamDetector()
	call := `{"function": "getModels", "params": {}}`

	require.Len(t, d.Feed("```json\n"+call+"\n```\n"), 1)
	assert.Empty(t, d.Feed("again "+call))
	assert.True(t, d.Seen(Call{Function: "getModels", Params: map[string]interface{}{}}))
}

func TestStreamDetectorNeverFiresOnIncompleteJSON(t *testing.T) {
	d := NewStreamDetector()
	for _, chunk := range []string{`{"function": "deleteModel",`, ` "params": {"name": "pessoa"`} {
		assert.Empty(t, d.Feed(chunk))
	}
	assert.True(t, d.Pending())
}

func TestStreamDetectorRecoversFromStrayCloser(t *testing.T) {
	d := NewStreamDetector()
	assert.Empty(t, d.Feed("{ a ] "))
	assert.False(t, d.Pending())
	calls := d.Feed(`{"function": "getRoles"}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "getRoles", calls[0].Function)
}

func TestStreamDetectorSeesCallsAfterUnclosedBrace(t *testing.T) {
	d := NewStreamDetector()
	assert.Empty(t, d.Feed("In Go a block opens with { like this. "))
	assert.True(t, d.Pending())

	calls := d.Feed(`{"function": "getModels", "params": {}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "getModels", calls[0].Function)

	calls = d.Feed(` then {"function": "getRoles"}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "getRoles", calls[0].Function)

	assert.Equal(t, []string{"getModels", "getRoles"}, functionNames(Extract(d.Text())))
}

func functionNames(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Function
	}
	return out
}
