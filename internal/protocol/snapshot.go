package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/g960059/osrelay/internal/model"
)

type snapshotFields struct {
	Status          *string         `json:"status"`
	CurrentVideo    *string         `json:"current_video"`
	CurrentPlaylist *string         `json:"current_playlist"`
	CurrentCategory json.RawMessage `json:"current_category"`
	OBSConnected    *bool           `json:"obs_connected"`
	UptimeSeconds   *float64        `json:"uptime_seconds"`
}

// ParseSnapshot extracts the known fields of a state snapshot for durable
// storage. A missing status means online; an object-valued category is
// kept as compact JSON text.
func ParseSnapshot(raw json.RawMessage, observedAt time.Time) (model.InstanceSnapshot, error) {
	var fields snapshotFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.InstanceSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	out := model.InstanceSnapshot{
		Status:          model.InstanceOnline,
		CurrentVideo:    fields.CurrentVideo,
		CurrentPlaylist: fields.CurrentPlaylist,
		ObservedAt:      observedAt,
	}
	if fields.Status != nil {
		status := model.InstanceStatus(*fields.Status)
		if !status.Valid() {
			return model.InstanceSnapshot{}, fmt.Errorf("decode snapshot: unknown status %q", *fields.Status)
		}
		out.Status = status
	}
	if fields.OBSConnected != nil {
		out.OBSConnected = *fields.OBSConnected
	}
	if fields.UptimeSeconds != nil {
		out.UptimeSeconds = int64(math.Max(0, *fields.UptimeSeconds))
	}
	category, err := categoryText(fields.CurrentCategory)
	if err != nil {
		return model.InstanceSnapshot{}, err
	}
	out.CurrentCategory = category
	return out, nil
}

func categoryText(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot category: %w", err)
		}
		return &s, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, fmt.Errorf("decode snapshot category: %w", err)
	}
	s := compact.String()
	return &s, nil
}
