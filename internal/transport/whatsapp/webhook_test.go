package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"entry":[]}`)

	if !VerifySignature("secret", body, sign("secret", body)) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", body, sign("wrong", body)) {
		t.Error("signature with wrong secret accepted")
	}
	if VerifySignature("secret", body, "sha256=nothex") {
		t.Error("malformed signature accepted")
	}
	if VerifySignature("secret", body, "") {
		t.Error("missing signature accepted")
	}
	if !VerifySignature("", body, "") {
		t.Error("verification should be disabled without a secret")
	}
}

const samplePayload = `{
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"wa_id": "4915550001", "profile": {"name": "Ada"}}],
        "messages": [{
          "from": "4915550001",
          "id": "wamid.abc",
          "timestamp": "1700000000",
          "type": "text",
          "text": {"body": "when do you open?"}
        }]
      }
    }]
  }]
}`

func TestParseEvents_Text(t *testing.T) {
	t.Parallel()

	events, err := ParseEvents([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.ExternalID != "wamid.abc" {
		t.Errorf("ExternalID = %q", ev.ExternalID)
	}
	if ev.ChatID != "4915550001" {
		t.Errorf("ChatID = %q", ev.ChatID)
	}
	if ev.Phone != "+4915550001" {
		t.Errorf("Phone = %q", ev.Phone)
	}
	if ev.Name != "Ada" {
		t.Errorf("Name = %q", ev.Name)
	}
	if ev.Content != "when do you open?" {
		t.Errorf("Content = %q", ev.Content)
	}
	if !ev.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
}

func TestParseEvents_Media(t *testing.T) {
	t.Parallel()

	payload := `{
  "entry": [{"changes": [{"value": {
    "messages": [{
      "from": "4915550002",
      "id": "wamid.img",
      "timestamp": "1700000001",
      "type": "image",
      "image": {"id": "media123", "caption": "our menu"}
    }]
  }}]}]
}`
	events, err := ParseEvents([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ContentType != "image" {
		t.Errorf("ContentType = %q", ev.ContentType)
	}
	if ev.Content != "our menu" {
		t.Errorf("Content = %q", ev.Content)
	}
	if ev.Metadata["media_id"] != "media123" {
		t.Errorf("media_id = %q", ev.Metadata["media_id"])
	}
}

func TestParseEvents_StatusOnlyDelivery(t *testing.T) {
	t.Parallel()

	events, err := ParseEvents([]byte(`{"entry":[{"changes":[{"value":{}}]}]}`))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestParseEvents_UnsupportedTypeSkipped(t *testing.T) {
	t.Parallel()

	payload := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"1","id":"wamid.r","timestamp":"1700000002","type":"reaction"}
	]}}]}]}`
	events, err := ParseEvents([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestNumberAllowed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		patterns []string
		phone    string
		want     bool
	}{
		{"no filter allows all", nil, "+4915550001", true},
		{"exact match", []string{"4915550001"}, "+4915550001", true},
		{"glob prefix", []string{"4915*"}, "+4915550001", true},
		{"plus in pattern", []string{"+4915550001"}, "+4915550001", true},
		{"no match", []string{"4916*"}, "+4915550001", false},
		{"empty pattern ignored", []string{""}, "+4915550001", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NumberAllowed(tc.patterns, tc.phone); got != tc.want {
				t.Errorf("NumberAllowed(%v, %q) = %v, want %v", tc.patterns, tc.phone, got, tc.want)
			}
		})
	}
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"4915550001@c.us": "4915550001",
		"+4915550001":     "4915550001",
		"4915550001":      "4915550001",
	}
	for in, want := range cases {
		if got := Recipient(in); got != want {
			t.Errorf("Recipient(%q) = %q, want %q", in, got, want)
		}
	}
}
