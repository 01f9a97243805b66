package events

import (
	"time"

	"github.com/google/uuid"
)

// ReplaySucceeded is published once per deferred mutation that the server
// accepted during replay.
type ReplaySucceeded struct {
	RecordID    uuid.UUID
	Description string
	EnqueuedAt  time.Time
	ReplayedAt  time.Time
}

// ReplayRejected is published when the server answered a replayed mutation
// with an error status. The record has been discarded.
type ReplayRejected struct {
	RecordID    uuid.UUID
	Description string
	StatusCode  int
	Message     string
}

type MutationDeferred struct {
	RecordID    uuid.UUID
	Description string
	EnqueuedAt  time.Time
}

type ConnectivityChanged struct {
	Online bool
	At     time.Time
}

type CacheRevalidated struct {
	Count int
	At    time.Time
}

type Bus struct {
	ReplaySucceeded     *Topic[ReplaySucceeded]
	ReplayRejected      *Topic[ReplayRejected]
	MutationDeferred    *Topic[MutationDeferred]
	ConnectivityChanged *Topic[ConnectivityChanged]
	CacheRevalidated    *Topic[CacheRevalidated]
}

func NewBus(buffer int) *Bus {
	return &Bus{
		ReplaySucceeded:     NewTopic[ReplaySucceeded](buffer),
		ReplayRejected:      NewTopic[ReplayRejected](buffer),
		MutationDeferred:    NewTopic[MutationDeferred](buffer),
		ConnectivityChanged: NewTopic[ConnectivityChanged](buffer),
		CacheRevalidated:    NewTopic[CacheRevalidated](buffer),
	}
}
