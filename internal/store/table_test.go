package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSetGetRoundTrip(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	tbl.Set("k", Value{Data: NewStringData("v")})

	v, ok := tbl.Get("k")
	require.True(t, ok)
	s, isString := v.Data.String()
	require.True(t, isString)
	assert.Equal(t, "v", s)
	assert.Nil(t, v.Expiry)
}

func TestTableGetMissingKey(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	_, ok := tbl.Get("missing")
	assert.False(t, ok)
}

func TestTableOverwriteReplacesAtomically(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	tbl.Set("k", Value{Data: NewIntData(1)})
	tbl.Set("k", Value{Data: NewIntData(2)})

	v, ok := tbl.Get("k")
	require.True(t, ok)
	i, _ := v.Data.Int()
	assert.Equal(t, int64(2), i)
}

func TestTableExpiresAndReaps(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	expiry := time.Now().UTC().Add(500 * time.Millisecond)
	tbl.Set("short", Value{Data: NewIntData(1), Expiry: &expiry})

	// Before expiry: visible.
	_, ok := tbl.Get("short")
	assert.True(t, ok)

	// Wait past expiry plus reaper settling time.
	time.Sleep(1500 * time.Millisecond)

	_, ok = tbl.Get("short")
	assert.False(t, ok, "expired entry must not be returned even before the reaper sweeps")

	assert.Eventually(t, func() bool {
		return tbl.Len() == 0
	}, 2*time.Second, 50*time.Millisecond, "reaper must eventually remove the expired entry")
}

func TestTableWakesOnSoonerExpiry(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	long := time.Now().UTC().Add(10 * time.Second)
	tbl.Set("long", Value{Data: NewStringData("v"), Expiry: &long})

	short := time.Now().UTC().Add(500 * time.Millisecond)
	tbl.Set("short", Value{Data: NewStringData("v"), Expiry: &short})

	assert.Eventually(t, func() bool {
		_, ok := tbl.Get("short")
		return !ok
	}, 2*time.Second, 50*time.Millisecond)

	_, ok := tbl.Get("long")
	assert.True(t, ok, "the longer-lived entry must still be present")
}

func TestTableNegativeExpiryInsertsAndReapsNormally(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	past := time.Now().UTC().Add(-time.Hour)
	tbl.Set("already-expired", Value{Data: NewStringData("v"), Expiry: &past})

	_, ok := tbl.Get("already-expired")
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		return tbl.Len() == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestTableDelete(t *testing.T) {
	tbl := NewTable(nil, nil, 0)
	defer tbl.Close()

	tbl.Set("k", Value{Data: NewStringData("v")})
	tbl.Delete("k")

	_, ok := tbl.Get("k")
	assert.False(t, ok)
}
