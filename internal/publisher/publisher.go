// Package publisher announces completed captures to downstream consumers.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/demoshot/internal/capture"
)

// Publisher delivers a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EventCaptureCompleted is the type of CaptureEvent.
const EventCaptureCompleted = "capture.completed"

// CaptureEvent is published after every successful capture.
type CaptureEvent struct {
	Type       string    `json:"type"`
	Slug       string    `json:"slug"`
	URL        string    `json:"url"`
	PublicURL  string    `json:"public_url"`
	Strategy   string    `json:"strategy"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Variants   []string  `json:"variants"`
	Fallback   bool      `json:"fallback"`
	Warnings   int       `json:"warnings"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewCaptureEvent summarizes an outcome.
func NewCaptureEvent(target capture.Target, publicURL string, outcome capture.Outcome, at time.Time) CaptureEvent {
	variants := make([]string, 0, len(outcome.Variants))
	for _, v := range outcome.Variants {
		variants = append(variants, v.Path)
	}
	return CaptureEvent{
		Type:       EventCaptureCompleted,
		Slug:       target.Slug,
		URL:        target.URL,
		PublicURL:  publicURL,
		Strategy:   outcome.Strategy,
		Width:      outcome.Master.Width,
		Height:     outcome.Master.Height,
		Variants:   variants,
		Fallback:   outcome.PrimaryError != nil,
		Warnings:   len(outcome.Diagnostics),
		CapturedAt: at.UTC(),
	}
}

// Hook publishes a CaptureEvent to topic after each capture. publicURL maps
// a slug to its public URL.
func Hook(pub Publisher, topic string, publicURL func(slug string) string, now func() time.Time) capture.Hook {
	if now == nil {
		now = time.Now
	}
	return capture.Hook{
		Name: "notify",
		Run: func(ctx context.Context, target capture.Target, outcome capture.Outcome) error {
			event := NewCaptureEvent(target, publicURL(target.Slug), outcome, now())
			if _, err := pub.Publish(ctx, topic, event); err != nil {
				return fmt.Errorf("publish %s: %w", EventCaptureCompleted, err)
			}
			return nil
		},
	}
}
