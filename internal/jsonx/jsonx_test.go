package jsonx

import (
	"bytes"
	"testing"

	"edgeresize/internal/edge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeRequestRoundTrip(t *testing.T) {
	req := edge.Request{URI: "/images/photo.jpg", QueryString: "w=1", Headers: edge.Headers{}}
	req.Headers.Set("Accept", "image/webp")

	data, err := Marshal(&req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "statusDescription")

	var back edge.Request
	require.NoError(t, Unmarshal(data, &back))
	assert.Equal(t, req, back)
}

func TestEncoderIndents(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.SetIndent("", "  ")
	require.NoError(t, enc.Encode(map[string]string{"uri": "/a.png"}))
	assert.Equal(t, "{\n  \"uri\": \"/a.png\"\n}\n", buf.String())
}
