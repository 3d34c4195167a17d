package model

import "time"

type InstanceStatus string

const (
	InstanceOnline  InstanceStatus = "online"
	InstanceOffline InstanceStatus = "offline"
	InstancePaused  InstanceStatus = "paused"
)

func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceOnline, InstanceOffline, InstancePaused:
		return true
	default:
		return false
	}
}

type Team struct {
	TeamID    string
	Name      string
	CreatedAt time.Time
}

type Membership struct {
	TeamID   string
	UserID   string
	Role     Role
	JoinedAt time.Time
}

// Instance is the durable record of a remote rotation agent.
type Instance struct {
	InstanceID      string
	TeamID          string
	Name            string
	APIKey          string
	Status          InstanceStatus
	LastSeenAt      *time.Time
	CreatedAt       time.Time
	CurrentVideo    *string
	CurrentPlaylist *string
	CurrentCategory *string
	OBSConnected    bool
	UptimeSeconds   int64
	HLSURL          *string
}

// InstanceSnapshot holds the known fields of a state snapshot that the
// durable store records. Unknown fields only live in the relay cache.
type InstanceSnapshot struct {
	Status          InstanceStatus
	CurrentVideo    *string
	CurrentPlaylist *string
	CurrentCategory *string
	OBSConnected    bool
	UptimeSeconds   int64
	ObservedAt      time.Time
}
