package api

import "time"

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

// HeartbeatResponse acknowledges a viewer heartbeat.
type HeartbeatResponse struct {
	OK bool `json:"ok"`
}

// ViewersResponse carries the number of users currently watching an
// instance.
type ViewersResponse struct {
	Viewers int `json:"viewers"`
}

// EvictionRequest names a user whose live access must be cut. Either
// InstanceIDs or TeamID selects the instances; with RevokeMembership the
// user's team membership is deleted as well.
type EvictionRequest struct {
	UserID           string   `json:"user_id"`
	TeamID           string   `json:"team_id,omitempty"`
	InstanceIDs      []string `json:"instance_ids,omitempty"`
	RevokeMembership bool     `json:"revoke_membership,omitempty"`
}

type EvictionResponse struct {
	Evicted int `json:"evicted"`
}
