package turn

import (
	"fmt"
	"net/http"
	"strings"
)

const basePrompt = "You are a friendly assistant! Keep your responses concise and helpful."

const artifactsPrompt = `When asked to write substantial content (essays, code, spreadsheets), use the create_document tool. Use update_document to revise an existing document instead of recreating it. Wait for user feedback before updating a document you just created.`

// Hints carries request-derived context folded into the system prompt.
type Hints struct {
	City      string
	Country   string
	Latitude  string
	Longitude string
}

// HintsFromRequest extracts geolocation hints from edge proxy headers.
// Missing headers simply yield empty hints.
func HintsFromRequest(r *http.Request) Hints {
	return Hints{
		City:      r.Header.Get("X-Geo-City"),
		Country:   r.Header.Get("X-Geo-Country"),
		Latitude:  r.Header.Get("X-Geo-Latitude"),
		Longitude: r.Header.Get("X-Geo-Longitude"),
	}
}

func (h Hints) empty() bool {
	return h.City == "" && h.Country == "" && h.Latitude == "" && h.Longitude == ""
}

// systemPrompt builds the effective system prompt for a turn.
func systemPrompt(hints Hints) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(artifactsPrompt)

	if !hints.empty() {
		b.WriteString("\n\nAbout the origin of the user's request:\n")
		if hints.Latitude != "" {
			fmt.Fprintf(&b, "- lat: %s\n", hints.Latitude)
		}
		if hints.Longitude != "" {
			fmt.Fprintf(&b, "- lon: %s\n", hints.Longitude)
		}
		if hints.City != "" {
			fmt.Fprintf(&b, "- city: %s\n", hints.City)
		}
		if hints.Country != "" {
			fmt.Fprintf(&b, "- country: %s\n", hints.Country)
		}
	}

	return b.String()
}

const titlePrompt = `Generate a short title (at most 80 characters) summarizing the user's first message. Respond with the title only, no quotes or colons.`
