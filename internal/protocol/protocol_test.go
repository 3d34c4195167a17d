package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/osrelay/internal/model"
)

func TestDecodeInstanceMessage(t *testing.T) {
	msg, err := DecodeInstanceMessage([]byte(`{"type":"state","data":{"status":"online"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindState, msg.Kind)
	assert.JSONEq(t, `{"status":"online"}`, string(msg.Data))

	msg, err = DecodeInstanceMessage([]byte(`{"type":"log"}`))
	require.NoError(t, err)
	assert.Equal(t, KindLog, msg.Kind)
	assert.JSONEq(t, `{}`, string(msg.Data))

	msg, err = DecodeInstanceMessage([]byte(`{"type":"heartbeat","data":1}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, msg.Kind)
	assert.Equal(t, "heartbeat", msg.Type)
}

func TestDecodeInstanceMessageRejectsMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"type":"state","data":[1,2]}`, `{"type":"state","data":"x"}`} {
		_, err := DecodeInstanceMessage([]byte(raw))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("DecodeInstanceMessage(%s) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestDecodeBrowserMessage(t *testing.T) {
	msg, err := DecodeBrowserMessage([]byte(`{"type":"command","data":{"action":"skip"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindCommand, msg.Kind)
	assert.Equal(t, "skip", msg.Command.Action)
	assert.JSONEq(t, `{}`, string(msg.Command.Payload))

	msg, err = DecodeBrowserMessage([]byte(`{"type":"command","data":{"action":"update_env","payload":{"KEY":"v"}}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"KEY":"v"}`, string(msg.Command.Payload))

	msg, err = DecodeBrowserMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, msg.Kind)

	_, err = DecodeBrowserMessage([]byte(`{"type":"command","data":{"action":5}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOutboundShapes(t *testing.T) {
	cases := []struct {
		msg  Outbound
		want string
	}{
		{CommandAckMessage(true), `{"type":"command_ack","data":{"delivered":true}}`},
		{CommandAckMessage(false), `{"type":"command_ack","data":{"delivered":false}}`},
		{ErrorMessage("Insufficient permissions"), `{"type":"error","data":{"message":"Insufficient permissions"}}`},
		{StateMessage(json.RawMessage(`{"a":1}`)), `{"type":"state","data":{"a":1}}`},
		{LogHistoryMessage(nil), `{"type":"log_history","data":[]}`},
		{LogHistoryMessage([]json.RawMessage{[]byte(`{"n":1}`), []byte(`{"n":2}`)}), `{"type":"log_history","data":[{"n":1},{"n":2}]}`},
	}
	for _, tc := range cases {
		body, err := Encode(tc.msg)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(body))
	}
}

func TestParseSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap, err := ParseSnapshot(json.RawMessage(`{"current_video":"a.mp4","current_category":{"name":"music","id":3},"obs_connected":true,"uptime_seconds":12.7}`), now)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceOnline, snap.Status)
	require.NotNil(t, snap.CurrentVideo)
	assert.Equal(t, "a.mp4", *snap.CurrentVideo)
	assert.Nil(t, snap.CurrentPlaylist)
	require.NotNil(t, snap.CurrentCategory)
	assert.JSONEq(t, `{"name":"music","id":3}`, *snap.CurrentCategory)
	assert.True(t, snap.OBSConnected)
	assert.EqualValues(t, 12, snap.UptimeSeconds)
	assert.Equal(t, now, snap.ObservedAt)

	snap, err = ParseSnapshot(json.RawMessage(`{"status":"paused","current_category":"news"}`), now)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatus("paused"), snap.Status)
	assert.Equal(t, "news", *snap.CurrentCategory)

	_, err = ParseSnapshot(json.RawMessage(`{"status":"exploded"}`), now)
	assert.Error(t, err)
}
