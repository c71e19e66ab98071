package labelsync

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	car "github.com/ipld/go-car"
)

// LabelEvent is one label change from the subscription stream.
type LabelEvent struct {
	Uri string `cbor:"uri" json:"uri"`
	Val string `cbor:"val" json:"val"`
	Neg bool   `cbor:"neg" json:"neg"`
	Src string `cbor:"src" json:"src"`
	Cts string `cbor:"cts" json:"cts"`
}

// frameHeader is the first CBOR object of a subscription frame.
type frameHeader struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t"`
}

// labelsBody is the second CBOR object of a #labels frame.
type labelsBody struct {
	Seq    int64        `cbor:"seq"`
	Labels []LabelEvent `cbor:"labels"`
}

// errorBody is the second CBOR object of an op=-1 frame.
type errorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message"`
}

// ErrorFrame is returned by decodeMessage when the stream carried an
// explicit error frame (op = -1). Callers log and drop it; the stream
// itself stays up.
type ErrorFrame struct {
	ErrStr  string
	Message string
}

func (e *ErrorFrame) Error() string {
	return fmt.Sprintf("stream error frame: %s: %s", e.ErrStr, e.Message)
}

// looksLikeCAR sniffs for CARv1 archive framing: a varint header length,
// then a two-entry CBOR map ({roots, version}) whose "roots" key shows up
// within the first few bytes.
func looksLikeCAR(b []byte) bool {
	if len(b) < 8 || b[1] != 0xa2 {
		return false
	}
	head := b
	if len(head) > 32 {
		head = head[:32]
	}
	return bytes.Contains(head, []byte("roots"))
}

// decodeMessage extracts the sequence number and label events from one
// binary websocket message. Archive-framed payloads (CAR) are unpacked
// block by block; bare payloads are a CBOR header followed by a CBOR body.
func decodeMessage(data []byte) (int64, []LabelEvent, error) {
	if looksLikeCAR(data) {
		return decodeCARMessage(data)
	}

	dec := cbor.NewDecoder(bytes.NewReader(data))

	var header frameHeader
	if err := dec.Decode(&header); err != nil {
		return 0, nil, fmt.Errorf("decoding frame header: %w", err)
	}

	if header.Op == -1 {
		var body errorBody
		if err := dec.Decode(&body); err != nil {
			return 0, nil, fmt.Errorf("decoding error frame body: %w", err)
		}
		return 0, nil, &ErrorFrame{ErrStr: body.Error, Message: body.Message}
	}

	var body labelsBody
	if err := dec.Decode(&body); err != nil {
		return 0, nil, fmt.Errorf("decoding frame body: %w", err)
	}
	return body.Seq, body.Labels, nil
}

func decodeCARMessage(data []byte) (int64, []LabelEvent, error) {
	cr, err := car.NewCarReader(bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("opening archive frame: %w", err)
	}

	var seq int64
	var events []LabelEvent
	for {
		blk, err := cr.Next()
		if err != nil {
			// io.EOF ends the block stream; anything else means a
			// truncated archive, but whatever decoded already is usable.
			break
		}
		var body labelsBody
		if err := cbor.Unmarshal(blk.RawData(), &body); err != nil {
			continue
		}
		if body.Seq > seq {
			seq = body.Seq
		}
		events = append(events, body.Labels...)
	}
	if seq == 0 && len(events) == 0 {
		return 0, nil, fmt.Errorf("archive frame carried no label payload")
	}
	return seq, events, nil
}

// extractDID pulls the account DID out of a label subject URI. Subjects are
// either a bare DID ("did:plc:abc") or a record URI
// ("at://did:plc:abc/app.bsky.feed.post/xyz"). Returns "" when the URI
// doesn't identify an account.
func extractDID(uri string) string {
	s := strings.TrimPrefix(uri, "at://")
	if !strings.HasPrefix(s, "did:") {
		return ""
	}
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// isPostURI reports whether the subject addresses a record rather than the
// account itself.
func isPostURI(uri string) bool {
	return strings.HasPrefix(uri, "at://") && strings.Contains(strings.TrimPrefix(uri, "at://"), "/")
}
