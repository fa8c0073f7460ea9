package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	m, err := New(TypeLan, Lan{Motd: "Steve - New World", Port: 25565})
	require.NoError(t, err)

	data, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"lan","payload":{"motd":"Steve - New World","port":25565}}`, string(data))
}

func TestEncode_EmptyPayload(t *testing.T) {
	data, err := Encode(Message{Type: TypeManifestRequest})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"manifest-request","payload":{}}`, string(data))
}

func TestEncode_RequiresType(t *testing.T) {
	_, err := Encode(Message{})
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestEncode_RejectsOversized(t *testing.T) {
	big := json.RawMessage(`"` + strings.Repeat("x", MaxMessageSize) + `"`)
	_, err := Encode(Message{Type: TypeManifest, Payload: big})
	assert.ErrorIs(t, err, ErrTooLarge)

	fits := json.RawMessage(`"` + strings.Repeat("x", MaxMessageSize/2) + `"`)
	_, err = Encode(Message{Type: TypeManifest, Payload: fits})
	assert.NoError(t, err)
}

func TestDecode_MemberJoinOffer(t *testing.T) {
	data := []byte(`{"type":"member-join-offer","payload":{"from":"b","to":"a","session":"s-1",` +
		`"offer":{"type":"offer","sdp":"v=0"},"initTime":1700000000000}}`)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeMemberJoinOffer, m.Type)

	var p MemberJoinOffer
	require.NoError(t, DecodePayload(m.Payload, &p))
	assert.EqualValues(t, "b", p.From)
	assert.EqualValues(t, "a", p.To)
	assert.EqualValues(t, "s-1", p.Session)
	assert.Equal(t, webrtc.SDPTypeOffer, p.Offer.Type)
	assert.Equal(t, "v=0", p.Offer.SDP)
	assert.EqualValues(t, 1700000000000, p.InitTime)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	m, err := Decode([]byte(`{"type":"from-the-future","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Type("from-the-future"), m.Type)
}

func TestDecodePayload_Absent(t *testing.T) {
	var hb Heartbeat
	require.NoError(t, DecodePayload(nil, &hb))
	require.NoError(t, DecodePayload(json.RawMessage("null"), &hb))
	assert.Zero(t, hb.Time)
}
