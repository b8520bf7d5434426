package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataStringRoundTrip(t *testing.T) {
	d := NewStringData("hello")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"string":"hello"}`, string(b))

	var decoded Data
	require.NoError(t, json.Unmarshal(b, &decoded))
	s, ok := decoded.String()
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestDataIntRoundTrip(t *testing.T) {
	d := NewIntData(-42)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"int":-42}`, string(b))

	var decoded Data
	require.NoError(t, json.Unmarshal(b, &decoded))
	i, ok := decoded.Int()
	require.True(t, ok)
	assert.Equal(t, int64(-42), i)
}

func TestDataJSONRoundTrip(t *testing.T) {
	d := NewJSONData(json.RawMessage(`{"a":1,"b":[true,null]}`))
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"json":{"a":1,"b":[true,null]}}`, string(b))

	var decoded Data
	require.NoError(t, json.Unmarshal(b, &decoded))
	raw, ok := decoded.JSON()
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":[true,null]}`, string(raw))
}

func TestDataRejectsMultipleTags(t *testing.T) {
	var d Data
	err := json.Unmarshal([]byte(`{"string":"a","int":1}`), &d)
	assert.Error(t, err)
}

func TestValueNilExpiryEncodesNull(t *testing.T) {
	v := Value{Data: NewStringData("v")}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"string":"v"},"expiry":null}`, string(b))
}

func TestValueExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, Value{Expiry: &past}.Expired(now))
	assert.False(t, Value{Expiry: &future}.Expired(now))
	assert.False(t, Value{Expiry: nil}.Expired(now))
}
