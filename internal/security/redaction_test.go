package security_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/g960059/osrelay/internal/security"
)

func TestRedactText(t *testing.T) {
	in := `token=abc123 password:"quoted-pass" Authorization Bearer eyJhbGciOi rtmp://live.example.com/app/sk_live_123 https://user:pw@host/path`
	out := security.RedactText(in)
	for _, leak := range []string{"abc123", "quoted-pass", "eyJhbGciOi", "sk_live_123", "user:pw"} {
		if strings.Contains(out, leak) {
			t.Fatalf("secret %q leaked after redaction: %q", leak, out)
		}
	}
	if !strings.Contains(out, "rtmp://live.example.com/app/") {
		t.Fatalf("rtmp host should survive redaction: %q", out)
	}
}

func TestRedactCommandPayloadUpdateEnvKeepsNamesOnly(t *testing.T) {
	payload := json.RawMessage(`{"YOUTUBE_STREAM_KEY":"abcd-efgh","OBS_PASSWORD":"hunter2"}`)
	out := security.RedactCommandPayload("update_env", payload)
	if out != "keys=OBS_PASSWORD,YOUTUBE_STREAM_KEY" {
		t.Fatalf("unexpected update_env rendering: %q", out)
	}
}

func TestRedactCommandPayloadMasksSecretFields(t *testing.T) {
	payload := json.RawMessage(`{"video":"intro.mp4","auth":{"api_key":"k-123"},"items":[{"token":"t-1"}]}`)
	out := security.RedactCommandPayload("play", payload)
	if strings.Contains(out, "k-123") || strings.Contains(out, "t-1") {
		t.Fatalf("secret field leaked: %q", out)
	}
	if !strings.Contains(out, "intro.mp4") {
		t.Fatalf("ordinary field should survive: %q", out)
	}
}

func TestRedactCommandPayloadEmptyAndInvalid(t *testing.T) {
	if out := security.RedactCommandPayload("skip", nil); out != "" {
		t.Fatalf("empty payload should render empty, got %q", out)
	}
	if out := security.RedactCommandPayload("skip", json.RawMessage(`password=oops`)); strings.Contains(out, "oops") {
		t.Fatalf("invalid JSON leaked secret: %q", out)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := security.MaskAPIKey("osr_1234567890"); got != "osr_********" {
		t.Fatalf("MaskAPIKey = %q", got)
	}
	if got := security.MaskAPIKey("short"); got != "*****" {
		t.Fatalf("MaskAPIKey(short) = %q", got)
	}
}
