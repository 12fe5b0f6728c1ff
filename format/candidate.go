package format

import (
	"strconv"
	"strings"

	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/relay"
)

// FormatCandidate renders a curated network item for the community channel.
// The layout mirrors Format but reads its fields from event tags, then adds
// the image URL, a link to the item at linkBase and the category's base
// hashtags.
func FormatCandidate(category scheduling.ContentType, ev *relay.Event, linkBase string) string {
	title := ev.Tag("title")
	if title == "" {
		title = ev.Tag("name")
	}

	var b strings.Builder
	b.WriteString(typeEmoji[category])
	if title != "" {
		b.WriteString(" ")
		b.WriteString(title)
	}

	switch category {
	case scheduling.ContentReview:
		if rating, ok := ev.NumericTag("rating"); ok {
			writeBlock(&b, "⭐ "+strconv.FormatFloat(rating, 'f', -1, 64)+"/5")
		}
		writeBlock(&b, Truncate(ev.Content, LongBodyLimit))
	case scheduling.ContentStory:
		body := ev.Tag("summary")
		if body == "" {
			body = Truncate(ev.Content, LongBodyLimit)
		}
		writeBlock(&b, body)
	case scheduling.ContentTrip:
		distance, _ := ev.NumericTag("distance")
		photos, _ := ev.NumericTag("photos")
		writeBlock(&b, tripLine(ev.Tag("activity"), distance, ev.Tag("unit"), int(photos)))
		writeBlock(&b, Truncate(ev.Content, ShortBodyLimit))
	default:
		writeBlock(&b, Truncate(ev.Content, LongBodyLimit))
	}

	writeBlock(&b, ev.Tag("image"))
	if linkBase != "" {
		writeBlock(&b, linkBase+ev.ID)
	}
	writeBlock(&b, HashtagLine(Hashtags(category, "")))
	return b.String()
}
