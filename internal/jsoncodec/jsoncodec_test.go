package jsoncodec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/jsoncodec"
)

type activity struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func TestMarshalMatchesEncodingJSON(t *testing.T) {
	t.Parallel()

	b, err := jsoncodec.Marshal(activity{Type: "message", Text: "<b>hi</b>"})
	require.NoError(t, err)
	// Same tags and omitempty handling as encoding/json.
	assert.JSONEq(t, `{"type":"message","text":"<b>hi</b>"}`, string(b))

	b, err = jsoncodec.Marshal(activity{Type: "typing"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"typing"}`, string(b))
}

func TestDecodeFromReader(t *testing.T) {
	t.Parallel()

	var a activity
	require.NoError(t, jsoncodec.Decode(strings.NewReader(`{"type":"message","text":"hello"}`), &a))
	assert.Equal(t, activity{Type: "message", Text: "hello"}, a)

	assert.Error(t, jsoncodec.Decode(strings.NewReader(`{"type":`), &a))
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	t.Parallel()

	var a activity
	assert.Error(t, jsoncodec.Unmarshal([]byte(`not json`), &a))
}
