package wire

import (
	"testing"

	"roomcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequestRoundTrip(t *testing.T) {
	payload, err := EncodeRequest(EventJoin, JoinRequest{RoomID: "room-1", Name: "alice"})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, EventJoin, env.Event)

	var req JoinRequest
	require.NoError(t, env.DecodeData(&req))
	assert.Equal(t, domain.RoomID("room-1"), req.RoomID)
	assert.Equal(t, "alice", req.Name)
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	payload, err := EncodeRequest("", nil)
	require.NoError(t, err)

	_, err = Decode(payload)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestResultCarriesStatusTrue(t *testing.T) {
	payload, err := EncodeResult(EventCreateRoom, RoomCreated{RoomID: "abc"})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, EventCreateRoom, env.Event)

	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	assert.True(t, resp.Status)

	var created RoomCreated
	require.NoError(t, resp.DecodeData(&created))
	assert.Equal(t, domain.RoomID("abc"), created.RoomID)
}

func TestErrorCarriesPlainString(t *testing.T) {
	payload, err := EncodeError(EventJoin, "room not found")
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)

	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Equal(t, "room not found", resp.ErrorMessage())
}

func TestErrorCarriesFieldErrors(t *testing.T) {
	payload, err := EncodeError(EventJoin, []FieldError{
		{Key: "roomId", Values: []string{"invalid room id format"}},
	})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)

	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Contains(t, resp.ErrorMessage(), "roomId")
	assert.Contains(t, resp.ErrorMessage(), "invalid room id format")
}

func TestEmptyDataIsTolerated(t *testing.T) {
	payload, err := EncodeRequest(EventDisconnect, nil)
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)

	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Empty(t, resp.ErrorMessage())
}

// Deployed clients send the producer close event with a Cyrillic "с"; the
// constant must keep those exact bytes.
func TestProducerClosedEventBytes(t *testing.T) {
	assert.Equal(t, []byte{'p', 'r', 'o', 'd', 'u', 'c', 'e', 'r', '-', 0xd1, 0x81, 'l', 'o', 's', 'e', 'd'}, []byte(EventProducerClosed))
	assert.NotEqual(t, "producer-closed", EventProducerClosed)
}
