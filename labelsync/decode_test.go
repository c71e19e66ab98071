package labelsync

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrame(t *testing.T, header frameHeader, body any) []byte {
	t.Helper()
	h, err := cbor.Marshal(header)
	require.NoError(t, err)
	b, err := cbor.Marshal(body)
	require.NoError(t, err)
	return append(h, b...)
}

func TestDecodeLabelsFrame(t *testing.T) {
	assert := assert.New(t)

	data := encodeFrame(t,
		frameHeader{Op: 1, T: "#labels"},
		labelsBody{
			Seq: 42,
			Labels: []LabelEvent{
				{Uri: "did:plc:abc", Val: "spam", Src: "did:plc:labeler", Cts: "2024-01-01T00:00:00Z"},
				{Uri: "at://did:plc:abc/app.bsky.feed.post/xyz", Val: "rude", Neg: true},
			},
		},
	)

	seq, events, err := decodeMessage(data)
	assert.NoError(err)
	assert.Equal(int64(42), seq)
	require.Len(t, events, 2)
	assert.Equal("spam", events[0].Val)
	assert.False(events[0].Neg)
	assert.True(events[1].Neg)
}

func TestDecodeErrorFrame(t *testing.T) {
	assert := assert.New(t)

	data := encodeFrame(t,
		frameHeader{Op: -1},
		errorBody{Error: "FutureCursor", Message: "cursor is ahead of the stream"},
	)

	_, _, err := decodeMessage(data)
	require.Error(t, err)
	var ef *ErrorFrame
	require.ErrorAs(t, err, &ef)
	assert.Equal("FutureCursor", ef.ErrStr)
}

func TestDecodeGarbage(t *testing.T) {
	_, _, err := decodeMessage([]byte{0xff, 0x00, 0x13, 0x37})
	assert.Error(t, err)
}

func TestDecodeTruncatedBody(t *testing.T) {
	h, err := cbor.Marshal(frameHeader{Op: 1, T: "#labels"})
	require.NoError(t, err)

	_, _, err = decodeMessage(h)
	assert.Error(t, err)
}

func TestLooksLikeCARRejectsBareFrames(t *testing.T) {
	data := encodeFrame(t, frameHeader{Op: 1, T: "#labels"}, labelsBody{Seq: 1})
	assert.False(t, looksLikeCAR(data))
	assert.False(t, looksLikeCAR(nil))
	assert.False(t, looksLikeCAR([]byte{0x0a}))
}

func TestLooksLikeCARSniffsHeader(t *testing.T) {
	// varint header length, then the two-entry map with a "roots" key up front
	hdr := []byte{0x19, 0xa2, 0x65, 'r', 'o', 'o', 't', 's', 0x80, 0x67, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x01}
	assert.True(t, looksLikeCAR(hdr))
}

func TestExtractDID(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("did:plc:abc", extractDID("did:plc:abc"))
	assert.Equal("did:plc:abc", extractDID("at://did:plc:abc"))
	assert.Equal("did:plc:abc", extractDID("at://did:plc:abc/app.bsky.feed.post/xyz"))
	assert.Equal("did:web:example.com", extractDID("did:web:example.com"))
	assert.Equal("", extractDID("https://example.com/profile"))
	assert.Equal("", extractDID("at://handle.example.com/app.bsky.feed.post/xyz"))
	assert.Equal("", extractDID(""))
}

func TestIsPostURI(t *testing.T) {
	assert := assert.New(t)

	assert.True(isPostURI("at://did:plc:abc/app.bsky.feed.post/xyz"))
	assert.False(isPostURI("at://did:plc:abc"))
	assert.False(isPostURI("did:plc:abc"))
}
