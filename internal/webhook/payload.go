// Package webhook decodes provider callback bodies and drives the durable
// processing of each stored delivery.
package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// The provider body nests the interesting part under
// entry[0].changes[0].value: optionally statuses[0] and/or messages[0],
// with contacts and metadata as siblings.

type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []ContactInfo    `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []StatusNotice   `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type ContactInfo struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

type StatusNotice struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Errors    []ProviderError `json:"errors"`
}

type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// InboundMessage is a tagged union over the provider content types; exactly
// one of the content pointers matching Type is set.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	Text        *TextContent        `json:"text,omitempty"`
	Button      *ButtonContent      `json:"button,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Audio       *MediaContent       `json:"audio,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Sticker     *MediaContent       `json:"sticker,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type ButtonContent struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type InteractiveContent struct {
	Type        string        `json:"type"`
	ButtonReply *ReplyContent `json:"button_reply,omitempty"`
	ListReply   *ReplyContent `json:"list_reply,omitempty"`
}

type ReplyContent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
}

// Content is the display text plus, for media types, the provider's
// internal media identifier.
type Content struct {
	Text      string
	MediaID   string
	MediaType string
}

// Content extracts display text per content type: direct text,
// button/interactive titles, or the media caption falling back to a generic
// placeholder.
func (m *InboundMessage) Content() Content {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return Content{Text: m.Text.Body}
		}
	case "button":
		if m.Button != nil {
			return Content{Text: m.Button.Text}
		}
	case "interactive":
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				return Content{Text: m.Interactive.ButtonReply.Title}
			}
			if m.Interactive.ListReply != nil {
				return Content{Text: m.Interactive.ListReply.Title}
			}
		}
	case "image":
		return mediaContent(m.Type, m.Image)
	case "video":
		return mediaContent(m.Type, m.Video)
	case "audio":
		return mediaContent(m.Type, m.Audio)
	case "document":
		return mediaContent(m.Type, m.Document)
	case "sticker":
		return mediaContent(m.Type, m.Sticker)
	}
	return Content{Text: fmt.Sprintf("sent a %s", m.Type)}
}

func mediaContent(kind string, media *MediaContent) Content {
	c := Content{MediaType: kind, Text: fmt.Sprintf("sent a %s", kind)}
	if media == nil {
		return c
	}
	c.MediaID = media.ID
	if media.Caption != "" {
		c.Text = media.Caption
	}
	return c
}

// Parse returns the first entry's first change value, or nil when the body
// carries no change at all.
func Parse(raw []byte) (*Value, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return nil, nil
	}
	return &env.Entry[0].Changes[0].Value, nil
}

// eventTime converts the provider's unix-seconds string; zero when absent
// or unparsable, letting downstream default to now.
func eventTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
