package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/parley/internal/triage"
)

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// request body using the app secret. An empty secret disables verification.
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body) //nolint:errcheck
	return hmac.Equal(mac.Sum(nil), want)
}

// webhookPayload is the Cloud API webhook envelope, reduced to the fields
// the pipeline consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Image    mediaRef `json:"image"`
					Audio    mediaRef `json:"audio"`
					Video    mediaRef `json:"video"`
					Document mediaRef `json:"document"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type mediaRef struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// ParseEvents extracts inbound message events from a webhook delivery.
// Status-only deliveries yield an empty slice.
func ParseEvents(body []byte) ([]*triage.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}

	var events []*triage.Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				ev := &triage.Event{
					ExternalID:  m.ID,
					ChatID:      m.From,
					Phone:       "+" + m.From,
					Name:        names[m.From],
					ContentType: m.Type,
				}
				if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					ev.Timestamp = time.Unix(ts, 0)
				}

				switch m.Type {
				case "text":
					ev.Content = m.Text.Body
				case "image", "audio", "video", "document":
					ref := m.Image
					switch m.Type {
					case "audio":
						ref = m.Audio
					case "video":
						ref = m.Video
					case "document":
						ref = m.Document
					}
					ev.Content = ref.Caption
					if ref.ID != "" {
						ev.Metadata = map[string]string{"media_id": ref.ID}
						// media is fetched lazily via the Graph API by ID
						ev.MediaURL = "media:" + ref.ID
					}
				default:
					// reactions, stickers, system events: nothing to triage
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// NumberAllowed reports whether a phone number passes the configured
// glob-style filter patterns. No patterns means every number is allowed.
func NumberAllowed(patterns []string, phone string) bool {
	if len(patterns) == 0 {
		return true
	}
	normalized := strings.TrimPrefix(phone, "+")
	for _, pat := range patterns {
		pat = strings.TrimPrefix(strings.TrimSpace(pat), "+")
		if pat == "" {
			continue
		}
		if ok, err := path.Match(pat, normalized); err == nil && ok {
			return true
		}
	}
	return false
}
