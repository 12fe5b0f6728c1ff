// Package format renders scheduled posts and curated candidates into
// network-ready text and tags.
//
// Every function here is pure: the same input always yields the same output.
package format

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"relay-scheduler/pkg/scheduling"
)

// Character limits for truncated bodies.
const (
	LongBodyLimit  = 280
	ShortBodyLimit = 200
)

const ellipsis = "..."

var baseHashtags = map[scheduling.ContentType][]string{
	scheduling.ContentReview:     {"travel", "review"},
	scheduling.ContentStory:      {"travel", "travelstory"},
	scheduling.ContentTrip:       {"travel", "trip"},
	scheduling.ContentStockMedia: {"stockmedia", "photography"},
	scheduling.ContentCustom:     nil,
}

var typeEmoji = map[scheduling.ContentType]string{
	scheduling.ContentReview:     "📍",
	scheduling.ContentStory:      "📝",
	scheduling.ContentTrip:       "🗺️",
	scheduling.ContentStockMedia: "📷",
	scheduling.ContentCustom:     "✨",
}

// Format renders post as the text and tags of a network event.
func Format(post *scheduling.ScheduledPost) scheduling.Formatted {
	hashtags := Hashtags(post.ContentType, post.Hashtags)

	var b strings.Builder
	b.WriteString(typeEmoji[post.ContentType])
	b.WriteString(" ")
	b.WriteString(post.Title)

	switch post.ContentType {
	case scheduling.ContentReview:
		writeBlock(&b, Truncate(post.Description, LongBodyLimit))
		writeBlock(&b, linkLine(post.TargetURL))
	case scheduling.ContentStory:
		body := post.Summary
		if body == "" {
			body = Truncate(post.Description, LongBodyLimit)
		}
		writeBlock(&b, body)
		writeBlock(&b, linkLine(post.TargetURL))
	case scheduling.ContentTrip:
		writeBlock(&b, tripLine(post.Activity, post.Distance, post.DistanceUnit, post.PhotoCount))
		writeBlock(&b, Truncate(post.Description, ShortBodyLimit))
		writeBlock(&b, linkLine(post.TargetURL))
	default:
		// stock-media and custom share one layout
		writeBlock(&b, post.Description)
		if post.ImageURL != "" {
			writeBlock(&b, "🖼️ "+post.ImageURL)
		}
		writeBlock(&b, linkLine(post.TargetURL))
	}
	writeBlock(&b, HashtagLine(hashtags))

	return scheduling.Formatted{
		Text: b.String(),
		Tags: Tags(hashtags, post.ImageURL, post.TargetURL, post.Title),
	}
}

// Truncate shortens s to limit characters, replacing the tail with "...".
// Strings within the limit are returned unchanged.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

// Hashtags returns the base hashtags of t followed by the user supplied
// comma separated hashtags, lower-cased. Duplicates are kept.
func Hashtags(t scheduling.ContentType, userTags string) []string {
	tags := append([]string(nil), baseHashtags[t]...)
	for _, raw := range strings.Split(userTags, ",") {
		tag := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// HashtagLine renders tags as "#a #b".
func HashtagLine(tags []string) string {
	return strings.Join(lo.Map(tags, func(t string, _ int) string { return "#" + t }), " ")
}

// Tags builds the event tag set: one topic tag per hashtag, then image,
// reference and title tags where present.
func Tags(hashtags []string, imageURL, targetURL, title string) [][]string {
	tags := lo.Map(hashtags, func(t string, _ int) []string { return []string{"t", t} })
	if imageURL != "" {
		tags = append(tags, []string{"image", imageURL})
	}
	if targetURL != "" {
		tags = append(tags, []string{"r", targetURL})
	}
	if title != "" {
		tags = append(tags, []string{"title", title})
	}
	return tags
}

// ActivityEmoji picks the glyph for a trip activity.
func ActivityEmoji(activity string) string {
	switch strings.ToLower(activity) {
	case "hike":
		return "🥾"
	case "cycling":
		return "🚴"
	default:
		return "🚶"
	}
}

func tripLine(activity string, distance float64, unit string, photos int) string {
	if activity == "" {
		activity = "walk"
	}
	line := ActivityEmoji(activity) + " " + activity
	if distance > 0 {
		line += " · " + strconv.FormatFloat(distance, 'f', -1, 64)
		if unit != "" {
			line += " " + unit
		}
	}
	if photos > 0 {
		line += " · 📸 " + strconv.Itoa(photos) + " photos"
	}
	return line
}

func linkLine(url string) string {
	if url == "" {
		return ""
	}
	return "🔗 " + url
}

// writeBlock appends s as a new paragraph, skipping empty blocks.
func writeBlock(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(s)
}
