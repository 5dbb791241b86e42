package models

// Normalized Weibo content records. These are transient: constructed per
// response from the upstream wire format and never persisted.

// MediaRef is a single media attachment on a post, in upstream order.
type MediaRef struct {
	Type string `json:"type"` // "photo" or "video"
	URL  string `json:"url"`
}

// Engagement holds the counters Weibo reports for a post.
type Engagement struct {
	Reposts  int64 `json:"reposts"`
	Comments int64 `json:"comments"`
	Likes    int64 `json:"likes"`
}

// ContentRecord is a normalized Weibo post. ID is the platform-unique status
// id and is stable across repeated fetches of the same content.
type ContentRecord struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	AuthorID   int64      `json:"author_id"`
	CreatedAt  string     `json:"created_at"`
	Text       string     `json:"text"`
	Media      []MediaRef `json:"media,omitempty"`
	Engagement Engagement `json:"engagement"`
}

// UserProfile is a Weibo user's full profile.
type UserProfile struct {
	ID             int64  `json:"id"`
	ScreenName     string `json:"screen_name"`
	AvatarHD       string `json:"avatar_hd"`
	Description    string `json:"description"`
	Gender         string `json:"gender"`
	FollowersCount int64  `json:"followers_count"`
	FollowCount    int64  `json:"follow_count"`
	StatusesCount  int64  `json:"statuses_count"`
	Verified       bool   `json:"verified"`
	VerifiedReason string `json:"verified_reason,omitempty"`
}

// UserSearchResult is the condensed user shape returned by user search.
type UserSearchResult struct {
	ID          int64  `json:"id"`
	ScreenName  string `json:"screen_name"`
	AvatarHD    string `json:"avatar_hd"`
	Description string `json:"description"`
}

// PagedFeeds is one page of posts plus the cursor for the next page. An empty
// SinceID means the upstream has no further pages.
type PagedFeeds struct {
	Records []ContentRecord `json:"records"`
	SinceID string          `json:"since_id"`
}
