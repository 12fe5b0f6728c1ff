package notify

import (
	"fmt"
	"html"
	"strings"

	"relay-scheduler/pkg/scheduling"
)

const style = "body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }\n" +
	"pre { background: #f8f9fa; padding: 15px; border-radius: 8px; white-space: pre-wrap; }\n" +
	".error { color: #c0392b; }\n" +
	"a { color: #e67e22; text-decoration: none; }\n"

func page(title string, body func(b *strings.Builder)) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<style>\n")
	b.WriteString(style)
	b.WriteString("</style>\n</head>\n<body>\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(title))
	body(&b)
	b.WriteString("</body>\n</html>")
	return b.String()
}

func link(b *strings.Builder, url string) {
	if url == "" {
		return
	}
	u := html.EscapeString(url)
	fmt.Fprintf(b, "<p><a href=\"%s\">%s</a></p>\n", u, u)
}

func publishedBody(post *scheduling.ScheduledPost, eventID string) string {
	return page("Scheduled post published", func(b *strings.Builder) {
		fmt.Fprintf(b, "<p><strong>%s</strong> (%s) was published.</p>\n",
			html.EscapeString(post.Title), html.EscapeString(string(post.ContentType)))
		fmt.Fprintf(b, "<p>Event id: %s</p>\n", html.EscapeString(eventID))
		link(b, post.TargetURL)
	})
}

func failedBody(post *scheduling.ScheduledPost, cause error) string {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return page("Scheduled post failed", func(b *strings.Builder) {
		fmt.Fprintf(b, "<p><strong>%s</strong> (%s) could not be published.</p>\n",
			html.EscapeString(post.Title), html.EscapeString(string(post.ContentType)))
		fmt.Fprintf(b, "<p class=\"error\">%s</p>\n", html.EscapeString(reason))
		b.WriteString("<p>The post will not be retried automatically. Edit and reschedule it to try again.</p>\n")
	})
}

func socialBody(post *scheduling.SocialScheduledPost) string {
	return page("Ready to post on "+string(post.Platform), func(b *strings.Builder) {
		fmt.Fprintf(b, "<p>Copy the text below and post it on %s.</p>\n", html.EscapeString(string(post.Platform)))
		fmt.Fprintf(b, "<pre>%s</pre>\n", html.EscapeString(post.PreparedText))
		link(b, post.ImageURL)
	})
}
