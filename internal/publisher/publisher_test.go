package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/publisher/memory"
)

func TestHookPublishesCaptureEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	hook := Hook(pub, "captures", func(slug string) string { return "https://demos.example/screenshots/" + slug + ".png" },
		func() time.Time { return at })

	outcome := capture.Outcome{
		Master:       artifact.Artifact{Path: "/srv/screenshots/acme.png", Width: 1440, Height: 900},
		Strategy:     capture.StrategyFallback,
		Variants:     []artifact.Artifact{{Path: "/srv/screenshots/acme-480.webp"}},
		PrimaryError: capture.NewError(capture.KindTimeout, capture.StrategyPrimary, nil),
	}
	require.NoError(t, hook.Run(context.Background(), capture.Target{Slug: "acme", URL: "https://acme.example/"}, outcome))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "captures", msgs[0].Topic)
	event, ok := msgs[0].Payload.(CaptureEvent)
	require.True(t, ok)
	assert.Equal(t, EventCaptureCompleted, event.Type)
	assert.Equal(t, "https://demos.example/screenshots/acme.png", event.PublicURL)
	assert.True(t, event.Fallback)
	assert.Equal(t, 1440, event.Width)
	assert.Equal(t, []string{"/srv/screenshots/acme-480.webp"}, event.Variants)
	assert.Equal(t, at, event.CapturedAt)
}

func TestHookWrapsPublishErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("topic not found"))
	hook := Hook(pub, "captures", func(string) string { return "" }, nil)
	err := hook.Run(context.Background(), capture.Target{Slug: "acme"}, capture.Outcome{})
	require.ErrorContains(t, err, EventCaptureCompleted)
}
