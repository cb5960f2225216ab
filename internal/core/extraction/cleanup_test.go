package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanJSONStripsFencesAndTrailingCommas(t *testing.T) {
	fenced := "```json\n{\"tasks\":[{\"title\":\"Rest\"},],\"medications\":[]}\n```"
	plain := `{"tasks":[{"title":"Rest"}],"medications":[]}`

	var got, want map[string]any
	require.NoError(t, json.Unmarshal([]byte(cleanJSON(fenced)), &got))
	require.NoError(t, json.Unmarshal([]byte(plain), &want))
	require.Equal(t, want, got)
}

func TestCleanJSONDropsCommentsOutsideStrings(t *testing.T) {
	text := `Here is the result:
{
  // the extracted rules
  "url": "https://example.org/care", /* kept inside strings */
  "note": "a /* b */ c",
  "items": [1, 2, 3,],
}
Let me know if you need more.`

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(cleanJSON(text)), &got))
	require.Equal(t, "https://example.org/care", got["url"])
	require.Equal(t, "a /* b */ c", got["note"])
	require.Len(t, got["items"], 3)
}

func TestObjectSpanTakesFirstBalancedObject(t *testing.T) {
	text := `prefix {"a": {"b": "}"}} trailing {"c": 1}`
	require.Equal(t, `{"a": {"b": "}"}}`, objectSpan(text))
}

func TestObjectSpanFallsBackWhenUnbalanced(t *testing.T) {
	require.Equal(t, `{"a": 1}`, objectSpan(`{"a": 1}`))
	require.Equal(t, `{"a": {"b": 1}`, objectSpan(`x {"a": {"b": 1}`))
}

func TestStripFencesWithProse(t *testing.T) {
	text := "Sure!\n```json\n{\"time_frames\": []}\n```\nDone."
	require.Equal(t, `{"time_frames": []}`, stripFences(text))
}
