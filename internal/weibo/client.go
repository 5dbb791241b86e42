package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"weibomcp/pkg/models"
)

const (
	defaultBaseURL  = "https://m.weibo.cn"
	containerPath   = "/api/container/getIndex"
	statusShowPath  = "/statuses/show"
	mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
)

// Client issues HTTP calls against the Weibo mobile API and parses raw
// payloads into normalized records. Retries are owned by the dispatcher, not
// the client: every method performs exactly one upstream call.
type Client struct {
	http *resty.Client
}

type ClientOption func(*Client)

// WithBaseURL points the client at a different upstream, used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.http.SetBaseURL(u)
	}
}

func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	hc := resty.New()
	hc.SetTimeout(timeout)
	hc.SetBaseURL(defaultBaseURL)
	hc.SetHeader("User-Agent", mobileUserAgent)
	hc.SetHeader("Referer", defaultBaseURL+"/")

	c := &Client{http: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap acquires anonymous visitor cookies by loading the mobile site.
// Client implements the session Bootstrapper.
func (c *Client) Bootstrap(ctx context.Context) ([]*http.Cookie, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return nil, fmt.Errorf("visitor bootstrap: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("visitor bootstrap: upstream status %d", resp.StatusCode())
	}
	return resp.Cookies(), nil
}

// Profile fetches a user's profile container.
func (c *Client) Profile(ctx context.Context, sess *Session, uid int64) (*models.UserProfile, error) {
	const op = "client.profile"
	data, err := c.getIndex(ctx, sess, op, map[string]string{
		"type":  "uid",
		"value": strconv.FormatInt(uid, 10),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		UserInfo *wireUser `json:"userInfo"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.UserInfo == nil {
		return nil, Errorf(KindUpstreamFormat, op, "no userInfo in payload for uid %d", uid)
	}
	p := payload.UserInfo.profile()
	return &p, nil
}

// ContainerID resolves the feed container id from the profile's tabs.
func (c *Client) ContainerID(ctx context.Context, sess *Session, uid int64) (string, error) {
	const op = "client.containerid"
	data, err := c.getIndex(ctx, sess, op, map[string]string{
		"type":  "uid",
		"value": strconv.FormatInt(uid, 10),
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		TabsInfo struct {
			Tabs []struct {
				TabKey      string `json:"tabKey"`
				ContainerID string `json:"containerid"`
			} `json:"tabs"`
		} `json:"tabsInfo"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", E(KindUpstreamFormat, op, err)
	}
	for _, tab := range payload.TabsInfo.Tabs {
		if tab.TabKey == "weibo" {
			return tab.ContainerID, nil
		}
	}
	return "", Errorf(KindUpstreamFormat, op, "no weibo tab for uid %d", uid)
}

// FeedsPage fetches one page of a user's feed. The returned SinceID is the
// cursor for the next page; empty means no further pages.
func (c *Client) FeedsPage(ctx context.Context, sess *Session, uid int64, containerID, sinceID string) (*models.PagedFeeds, error) {
	const op = "client.feeds"
	params := map[string]string{
		"type":        "uid",
		"value":       strconv.FormatInt(uid, 10),
		"containerid": containerID,
	}
	if sinceID != "" {
		params["since_id"] = sinceID
	}
	data, err := c.getIndex(ctx, sess, op, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		CardlistInfo struct {
			SinceID flexString `json:"since_id"`
		} `json:"cardlistInfo"`
		Cards []wireCard `json:"cards"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, E(KindUpstreamFormat, op, err)
	}

	page := &models.PagedFeeds{SinceID: string(payload.CardlistInfo.SinceID)}
	for _, card := range payload.Cards {
		if card.Mblog != nil {
			page.Records = append(page.Records, card.Mblog.record())
		}
	}
	return page, nil
}

// SearchUsers searches users by keyword. Results keep upstream relevance
// order; an empty slice means the result set is exhausted.
func (c *Client) SearchUsers(ctx context.Context, sess *Session, keyword string, page int) ([]models.UserSearchResult, error) {
	const op = "client.search_users"
	params := map[string]string{
		"containerid": "100103type=3&q=" + keyword + "&t=",
		"page_type":   "searchall",
	}
	if page > 1 {
		params["page"] = strconv.Itoa(page)
	}
	data, err := c.getIndex(ctx, sess, op, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Cards []wireCard `json:"cards"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, E(KindUpstreamFormat, op, err)
	}
	// The user list sits in the card_group of the second card.
	if len(payload.Cards) < 2 {
		return nil, nil
	}
	var users []models.UserSearchResult
	for _, item := range payload.Cards[1].CardGroup {
		if item.User != nil {
			users = append(users, models.UserSearchResult{
				ID:          item.User.ID,
				ScreenName:  item.User.ScreenName,
				AvatarHD:    item.User.AvatarHD,
				Description: item.User.Description,
			})
		}
	}
	return users, nil
}

// SearchPosts searches posts by keyword. Pagination is page-numbered rather
// than cursor-based on this endpoint; an empty slice means no further pages.
func (c *Client) SearchPosts(ctx context.Context, sess *Session, query string, page int) ([]models.ContentRecord, error) {
	const op = "client.search_posts"
	params := map[string]string{
		"containerid": "100103type=1&q=" + query,
		"page_type":   "searchall",
	}
	if page > 1 {
		params["page"] = strconv.Itoa(page)
	}
	data, err := c.getIndex(ctx, sess, op, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Cards []wireCard `json:"cards"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, E(KindUpstreamFormat, op, err)
	}

	var records []models.ContentRecord
	for _, card := range payload.Cards {
		if card.Mblog != nil {
			records = append(records, card.Mblog.record())
		}
		for _, item := range card.CardGroup {
			if item.Mblog != nil {
				records = append(records, item.Mblog.record())
			}
		}
	}
	return records, nil
}

// PostDetail fetches a single post, expanding truncated long text.
func (c *Client) PostDetail(ctx context.Context, sess *Session, id string) (*models.ContentRecord, error) {
	const op = "client.post_detail"
	data, err := c.get(ctx, sess, op, statusShowPath, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}

	var m wireMblog
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, E(KindUpstreamFormat, op, err)
	}
	if m.ID == "" {
		return nil, Errorf(KindUpstreamFormat, op, "no status in payload for id %s", id)
	}
	record := m.record()
	return &record, nil
}

// getIndex calls the container index endpoint shared by profile, feed and
// search queries.
func (c *Client) getIndex(ctx context.Context, sess *Session, op string, params map[string]string) (json.RawMessage, error) {
	return c.get(ctx, sess, op, containerPath, params)
}

func (c *Client) get(ctx context.Context, sess *Session, op, path string, params map[string]string) (json.RawMessage, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(params)
	if sess != nil && len(sess.Cookies) > 0 {
		req.SetCookies(sess.Cookies)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, E(KindNetwork, op, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, Errorf(KindUnauthenticated, op, "upstream rejected credentials with status %d", code)
	case code == http.StatusTooManyRequests || code == http.StatusTeapot:
		return nil, Errorf(KindRateLimited, op, "upstream throttled with status %d", code)
	case code >= http.StatusInternalServerError:
		return nil, Errorf(KindNetwork, op, "upstream status %d", code)
	default:
		return nil, Errorf(KindUpstreamFormat, op, "unexpected upstream status %d", code)
	}

	var envelope struct {
		Ok   int             `json:"ok"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, E(KindUpstreamFormat, op, err)
	}
	if envelope.Ok != 1 {
		if strings.Contains(envelope.Msg, "频繁") { // "too frequent"
			return nil, Errorf(KindRateLimited, op, "upstream throttled: %s", envelope.Msg)
		}
		return nil, Errorf(KindUpstreamFormat, op, "upstream ok=%d msg=%q", envelope.Ok, envelope.Msg)
	}
	if len(envelope.Data) == 0 {
		return nil, Errorf(KindUpstreamFormat, op, "empty data payload")
	}
	return envelope.Data, nil
}

// Wire types for the mobile API payloads.

type wireCard struct {
	Mblog     *wireMblog `json:"mblog"`
	CardGroup []wireCard `json:"card_group"`
	User      *wireUser  `json:"user"`
}

type wireMblog struct {
	ID             string    `json:"id"`
	CreatedAt      string    `json:"created_at"`
	Text           string    `json:"text"`
	IsLongText     bool      `json:"isLongText"`
	RepostsCount   flexInt   `json:"reposts_count"`
	CommentsCount  flexInt   `json:"comments_count"`
	AttitudesCount flexInt   `json:"attitudes_count"`
	User           *wireUser `json:"user"`
	Pics           []struct {
		URL string `json:"url"`
	} `json:"pics"`
	PageInfo *struct {
		Type      string `json:"type"`
		MediaInfo *struct {
			StreamURL string `json:"stream_url"`
		} `json:"media_info"`
	} `json:"page_info"`
	LongText *struct {
		Content string `json:"longTextContent"`
	} `json:"longText"`
}

func (m *wireMblog) record() models.ContentRecord {
	r := models.ContentRecord{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Text:      m.Text,
		Engagement: models.Engagement{
			Reposts:  int64(m.RepostsCount),
			Comments: int64(m.CommentsCount),
			Likes:    int64(m.AttitudesCount),
		},
	}
	if m.LongText != nil && m.LongText.Content != "" {
		r.Text = m.LongText.Content
	}
	if m.User != nil {
		r.Author = m.User.ScreenName
		r.AuthorID = m.User.ID
	}
	for _, pic := range m.Pics {
		r.Media = append(r.Media, models.MediaRef{Type: "photo", URL: pic.URL})
	}
	if m.PageInfo != nil && m.PageInfo.Type == "video" && m.PageInfo.MediaInfo != nil {
		r.Media = append(r.Media, models.MediaRef{Type: "video", URL: m.PageInfo.MediaInfo.StreamURL})
	}
	return r
}

type wireUser struct {
	ID             int64   `json:"id"`
	ScreenName     string  `json:"screen_name"`
	AvatarHD       string  `json:"avatar_hd"`
	Description    string  `json:"description"`
	Gender         string  `json:"gender"`
	FollowersCount flexInt `json:"followers_count"`
	FollowCount    flexInt `json:"follow_count"`
	StatusesCount  flexInt `json:"statuses_count"`
	Verified       bool    `json:"verified"`
	VerifiedReason string  `json:"verified_reason"`
}

func (u *wireUser) profile() models.UserProfile {
	return models.UserProfile{
		ID:             u.ID,
		ScreenName:     u.ScreenName,
		AvatarHD:       u.AvatarHD,
		Description:    u.Description,
		Gender:         u.Gender,
		FollowersCount: int64(u.FollowersCount),
		FollowCount:    int64(u.FollowCount),
		StatusesCount:  int64(u.StatusesCount),
		Verified:       u.Verified,
		VerifiedReason: u.VerifiedReason,
	}
}

// flexInt decodes counters Weibo serves either as numbers or as display
// strings like "100万+"; non-numeric strings decode to 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes cursor fields Weibo serves as either string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "0" {
		s = ""
	}
	*f = flexString(s)
	return nil
}
