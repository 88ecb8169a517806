package push

// Placeholders maps a content-type tag to the text shown in a notification
// body instead of the raw content.
type Placeholders map[string]string

// DefaultPlaceholders covers the attachment types clients can send.
func DefaultPlaceholders() Placeholders {
	return Placeholders{
		"image": "📷 Photo",
		"file":  "📎 File",
		"voice": "🎤 Voice message",
		"video": "🎥 Video",
	}
}

// With returns a copy of p with tag mapped to display.
func (p Placeholders) With(tag, display string) Placeholders {
	out := make(Placeholders, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[tag] = display
	return out
}

// Body returns the placeholder for contentType, or text when the type has
// none.
func (p Placeholders) Body(contentType, text string) string {
	if display, ok := p[contentType]; ok {
		return display
	}
	return text
}
