package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "room", Options{SubscribeToSelf: true})

	got := r.Get("alice")
	assert.Equal(t, Options{SubscribeToSelf: true}, got["room"])
}

func TestRegistryGetUnknownClientReturnsEmpty(t *testing.T) {
	r := NewRegistry()
	got := r.Get("nobody")
	assert.Empty(t, got)
}

func TestRegistryRemoveIsNoOpWhenAbsent(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Remove("alice", "room") })
}

func TestRegistrySecondIdenticalSubscribeLeavesSetEqual(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "room", Options{})
	r.Add("alice", "room", Options{})

	got := r.Get("alice")
	assert.Len(t, got, 1)
}

func TestRegistryGetReturnsIndependentSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "room", Options{})

	snapshot := r.Get("alice")
	snapshot["other"] = Options{}

	assert.Len(t, r.Get("alice"), 1, "mutating a snapshot must not affect the registry")
}

func TestRegistryClearRemovesAllChannels(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "room", Options{})
	r.Add("alice", "lobby", Options{})

	r.Clear("alice")

	assert.Empty(t, r.Get("alice"))
}

func TestRegistryPersistsAcrossSessionsByClientID(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", "room", Options{SubscribeToSelf: true})

	// Simulate a second session for the same client id.
	seeded := r.Get("alice")
	assert.Equal(t, Options{SubscribeToSelf: true}, seeded["room"])
}
