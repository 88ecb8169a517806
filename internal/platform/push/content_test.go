package push_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
)

func TestPlaceholders(t *testing.T) {
	p := push.DefaultPlaceholders()

	t.Run("Success - Known types use the placeholder", func(t *testing.T) {
		assert.Equal(t, "📷 Photo", p.Body("image", "https://cdn/img.png"))
		assert.Equal(t, "🎤 Voice message", p.Body("voice", "blob"))
	})

	t.Run("Success - Text passes through", func(t *testing.T) {
		assert.Equal(t, "hello", p.Body("text", "hello"))
		assert.Equal(t, "hello", p.Body("", "hello"))
	})

	t.Run("Success - With extends without mutating the original", func(t *testing.T) {
		extended := p.With("location", "📍 Location")

		assert.Equal(t, "📍 Location", extended.Body("location", "51.5,0.1"))
		assert.Equal(t, "51.5,0.1", p.Body("location", "51.5,0.1"))
	})
}
