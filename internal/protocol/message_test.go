package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin-db/internal/store"
)

func TestMessageClientIDEncodes(t *testing.T) {
	b, err := json.Marshal(NewClientIDMessage("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"abc"}`, string(b))
}

func TestMessageGetEncodesNullWhenAbsent(t *testing.T) {
	b, err := json.Marshal(NewGetMessage(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"get":null}`, string(b))
}

func TestMessageGetEncodesValue(t *testing.T) {
	v := &store.Value{Data: store.NewIntData(7)}
	b, err := json.Marshal(NewGetMessage(v))
	require.NoError(t, err)
	assert.JSONEq(t, `{"get":{"data":{"int":7},"expiry":null}}`, string(b))
}

func TestMessageBroadcastEncodes(t *testing.T) {
	b, err := json.Marshal(NewBroadcastMessage(BroadcastMessage{ClientID: "a", Channel: "room", Message: "hi"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"broadcast_message":{"client_id":"a","channel":"room","message":"hi"}}`, string(b))
}

func TestStatusOkEncodesAsBareString(t *testing.T) {
	b, err := json.Marshal(NewStatusMessage(Ok()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(b))
}

func TestStatusErrorWithNilOperationEncodes(t *testing.T) {
	b, err := json.Marshal(NewStatusMessage(Error("Could not deserialize string message", nil)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":{"error":{"message":"Could not deserialize string message","operation":null}}}`, string(b))
}

func TestStatusErrorWithOperationEncodes(t *testing.T) {
	op := &Command{Kind: CommandGet, Get: Get{Key: "k"}}
	msg := NewStatusMessage(Error("boom", op))
	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, MessageStatus, decoded.Kind)
	require.Equal(t, StatusError, decoded.Status.Kind)
	require.NotNil(t, decoded.Status.Operation)
	assert.Equal(t, "k", decoded.Status.Operation.Get.Key)
}

func TestMessageRoundTripValueWithExpiry(t *testing.T) {
	expiry := time.Now().UTC().Truncate(time.Second)
	v := &store.Value{Data: store.NewStringData("v"), Expiry: &expiry}

	b, err := json.Marshal(NewGetMessage(v))
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, MessageGet, decoded.Kind)
	require.NotNil(t, decoded.Get.Expiry)
	assert.True(t, expiry.Equal(*decoded.Get.Expiry))
}
