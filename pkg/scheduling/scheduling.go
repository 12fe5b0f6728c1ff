// Package scheduling contains the core domain types for the relay scheduler.
package scheduling

import (
	"errors"
	"strings"
)

// ContentType identifies which template a post is rendered with.
type ContentType string

const (
	ContentReview     ContentType = "review"
	ContentStory      ContentType = "story"
	ContentTrip       ContentType = "trip"
	ContentStockMedia ContentType = "stock-media"
	ContentCustom     ContentType = "custom"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentReview, ContentStory, ContentTrip, ContentStockMedia, ContentCustom:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a ScheduledPost.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no automatic transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// SocialStatus is the lifecycle state of a SocialScheduledPost.
type SocialStatus string

const (
	SocialPending        SocialStatus = "pending"
	SocialReady          SocialStatus = "ready"
	SocialPostedManually SocialStatus = "posted-manually"
)

// Terminal reports whether the dispatcher is done with a social post in state s.
func (s SocialStatus) Terminal() bool {
	return s == SocialReady || s == SocialPostedManually
}

// Platform is a social platform without a publish API.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformTwitter || p == PlatformInstagram || p == PlatformFacebook
}

// ScheduledPost is a post waiting to be published to the content network.
type ScheduledPost struct {
	ID            string      `json:"id"`
	ContentType   ContentType `json:"contentType"`
	TargetURL     string      `json:"targetUrl"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	ImageURL      string      `json:"imageUrl,omitempty"`
	Hashtags      string      `json:"hashtags,omitempty"` // Comma separated, free text
	ScheduledTime int64       `json:"scheduledTime"`      // Unix seconds
	Status        Status      `json:"status"`
	CreatedAt     int64       `json:"createdAt"` // Unix seconds

	// Optional per-type details
	Summary      string  `json:"summary,omitempty"`
	Activity     string  `json:"activity,omitempty"`
	Distance     float64 `json:"distance,omitempty"`
	DistanceUnit string  `json:"distanceUnit,omitempty"`
	PhotoCount   int     `json:"photoCount,omitempty"`

	// Written alongside the terminal status
	PublishedEventID string `json:"publishedEventId,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Validate checks the fields a post needs before it can be published.
func (p *ScheduledPost) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if !p.ContentType.Valid() {
		errs = append(errs, errors.New("unknown content type "+string(p.ContentType)))
	}
	if strings.TrimSpace(p.Title) == "" {
		errs = append(errs, errors.New("missing title"))
	}
	if strings.TrimSpace(p.TargetURL) == "" {
		errs = append(errs, errors.New("missing target url"))
	}
	if p.ScheduledTime <= 0 {
		errs = append(errs, errors.New("missing scheduled time"))
	}
	return errors.Join(errs...)
}

// Due reports whether the post is pending and its time has come.
func (p *ScheduledPost) Due(now int64) bool {
	return p.Status == StatusPending && p.ScheduledTime <= now
}

// SocialScheduledPost is a post for a platform the user publishes by hand.
type SocialScheduledPost struct {
	ScheduledPost
	Platform     Platform     `json:"platform"`
	Status       SocialStatus `json:"status"` // Shadows ScheduledPost.Status
	PreparedText string       `json:"preparedText,omitempty"`
}

// Validate checks the social post, including its platform.
func (p *SocialScheduledPost) Validate() error {
	err := p.ScheduledPost.Validate()
	if !p.Platform.Valid() {
		err = errors.Join(err, errors.New("unknown platform "+string(p.Platform)))
	}
	return err
}

// Due reports whether the social post is pending and its time has come.
func (p *SocialScheduledPost) Due(now int64) bool {
	return p.Status == SocialPending && p.ScheduledTime <= now
}

// Formatted is the rendered text and tag set of a post.
type Formatted struct {
	Text string
	Tags [][]string
}
