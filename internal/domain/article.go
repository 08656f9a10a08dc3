package domain

import (
	"encoding/json"
	"time"
)

// Article is a single post scraped from the content site. SourceID is the
// identity key: the CMS id out of the embedded page state when present, the
// URL slug otherwise. Slug stays alongside it for URL-based dedup.
type Article struct {
	ID             int64
	SourceID       string
	Slug           string
	URL            string
	Title          string
	Subtitle       *string
	ContentHTML    *string
	ContentText    *string
	Category       *string
	Author         *string
	AuthorEmail    *string
	FeaturedImage  *string
	ReadTime       *string
	PublishedAt    *time.Time
	Tags           []string
	RawState       json.RawMessage // raw embedded page state, kept for audit and replay
	SocialContents []SocialContent
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
)

// SocialContent is one embedded social item found in an article body.
// Position is the item's index in extraction order, dense from 0.
type SocialContent struct {
	Platform     Platform
	ContentType  string // "video", "post", "tweet", "short", "screenshot"
	URL          string
	EmbedURL     *string
	EmbedHTML    *string
	Username     *string
	Caption      *string
	ThumbnailURL *string
	Position     int
}
