package blobsapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSignedURL(t *testing.T) {
	url, err := DecodeSignedURL([]byte(`{"url":"https://storage.example/signed?x=1"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.example/signed?x=1", url)

	_, err = DecodeSignedURL([]byte(`{}`))
	assert.Error(t, err)

	_, err = DecodeSignedURL([]byte(`<html>`))
	assert.Error(t, err)
}

func TestDecodeBlobsPage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		blobs      int
		dirs       []string
		nextCursor string
	}{
		{
			name:       "with cursor",
			body:       `{"blobs":[{"key":"a","etag":"\"1\""},{"key":"b","etag":"\"2\""}],"directories":["d"],"next_cursor":"abc"}`,
			blobs:      2,
			dirs:       []string{"d"},
			nextCursor: "abc",
		},
		{
			name:  "null cursor",
			body:  `{"blobs":[],"directories":[],"next_cursor":null}`,
			blobs: 0,
			dirs:  []string{},
		},
		{
			name: "missing fields",
			body: `{}`,
		},
		{
			name: "empty body",
			body: ``,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			page, err := DecodeBlobsPage([]byte(tc.body))
			require.NoError(t, err)
			assert.Len(t, page.Blobs, tc.blobs)
			assert.Equal(t, tc.dirs, page.Directories)
			assert.Equal(t, tc.nextCursor, page.Cursor())
		})
	}
}

func TestDecodeStoresPage(t *testing.T) {
	page, err := DecodeStoresPage([]byte(`{"stores":["site:a","deploy:b"],"next_cursor":"n"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"site:a", "deploy:b"}, page.Stores)
	assert.Equal(t, "n", page.Cursor())
}

func TestEncodeDoesNotEscapeHTML(t *testing.T) {
	data, err := Encode(map[string]string{"tag": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"<b>&</b>"}`, string(data))
}
