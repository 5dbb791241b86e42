package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"weibomcp/internal/cache"
	"weibomcp/internal/logging"
	"weibomcp/internal/weibo"
	"weibomcp/pkg/models"
)

// UpstreamClient is the slice of the Weibo client the dispatcher needs.
// Tests substitute a mock.
type UpstreamClient interface {
	Profile(ctx context.Context, sess *weibo.Session, uid int64) (*models.UserProfile, error)
	ContainerID(ctx context.Context, sess *weibo.Session, uid int64) (string, error)
	FeedsPage(ctx context.Context, sess *weibo.Session, uid int64, containerID, sinceID string) (*models.PagedFeeds, error)
	SearchUsers(ctx context.Context, sess *weibo.Session, keyword string, page int) ([]models.UserSearchResult, error)
	SearchPosts(ctx context.Context, sess *weibo.Session, query string, page int) ([]models.ContentRecord, error)
	PostDetail(ctx context.Context, sess *weibo.Session, id string) (*models.ContentRecord, error)
}

// WeiboService dispatches validated tool arguments into upstream queries:
// it gates every query through the rate limiter, handles session refresh and
// bounded retries, paginates, truncates to the declared maximums and
// memoizes finished payloads.
type WeiboService struct {
	client   UpstreamClient
	sessions *weibo.SessionManager
	limiter  *weibo.Limiter
	results  *cache.Cache

	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewWeiboService(client UpstreamClient, sessions *weibo.SessionManager, limiter *weibo.Limiter, results *cache.Cache, maxAttempts int, backoffInitial, backoffMax time.Duration) *WeiboService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &WeiboService{
		client:         client,
		sessions:       sessions,
		limiter:        limiter,
		results:        results,
		maxAttempts:    maxAttempts,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		sleep:          sleepCtx,
	}
}

// SearchUsers returns up to limit users matching keyword, upstream relevance
// order, as a JSON payload.
func (s *WeiboService) SearchUsers(ctx context.Context, keyword string, limit int) (string, error) {
	key := cache.Key("search_users", keyword, strconv.Itoa(limit))
	if payload, ok := s.results.Get(key); ok {
		return payload, nil
	}

	var users []models.UserSearchResult
	err := s.do(ctx, weibo.ClassContainer, "search_users", func(sess *weibo.Session) error {
		var err error
		users, err = s.client.SearchUsers(ctx, sess, keyword, 1)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(users) > limit {
		users = users[:limit]
	}
	return s.finish(key, users)
}

// GetProfile returns a user's profile as a JSON payload.
func (s *WeiboService) GetProfile(ctx context.Context, uid int64) (string, error) {
	key := cache.Key("get_profile", strconv.FormatInt(uid, 10))
	if payload, ok := s.results.Get(key); ok {
		return payload, nil
	}

	var profile *models.UserProfile
	err := s.do(ctx, weibo.ClassContainer, "get_profile", func(sess *weibo.Session) error {
		var err error
		profile, err = s.client.Profile(ctx, sess, uid)
		return err
	})
	if err != nil {
		return "", err
	}
	return s.finish(key, profile)
}

// GetFeeds returns up to limit posts from a user's feed in upstream
// chronological order, fetching at most pageLimit pages.
func (s *WeiboService) GetFeeds(ctx context.Context, uid int64, limit, pageLimit int) (string, error) {
	key := cache.Key("get_feeds", strconv.FormatInt(uid, 10), strconv.Itoa(limit), strconv.Itoa(pageLimit))
	if payload, ok := s.results.Get(key); ok {
		return payload, nil
	}

	var containerID string
	err := s.do(ctx, weibo.ClassContainer, "get_feeds", func(sess *weibo.Session) error {
		var err error
		containerID, err = s.client.ContainerID(ctx, sess, uid)
		return err
	})
	if err != nil {
		return "", err
	}

	var records []models.ContentRecord
	sinceID := ""
	for page := 0; page < pageLimit && len(records) < limit; page++ {
		var feeds *models.PagedFeeds
		err := s.do(ctx, weibo.ClassContainer, "get_feeds", func(sess *weibo.Session) error {
			var err error
			feeds, err = s.client.FeedsPage(ctx, sess, uid, containerID, sinceID)
			return err
		})
		if err != nil {
			return "", err
		}
		if len(feeds.Records) == 0 {
			break
		}
		records = append(records, feeds.Records...)
		sinceID = feeds.SinceID
		if sinceID == "" {
			break
		}
	}

	if len(records) > limit {
		records = records[:limit]
	}
	return s.finish(key, records)
}

// SearchPosts returns up to limit posts matching query in upstream relevance
// order, fetching at most pageLimit pages.
func (s *WeiboService) SearchPosts(ctx context.Context, query string, limit, pageLimit int) (string, error) {
	key := cache.Key("search_posts", query, strconv.Itoa(limit), strconv.Itoa(pageLimit))
	if payload, ok := s.results.Get(key); ok {
		return payload, nil
	}

	var records []models.ContentRecord
	for page := 1; page <= pageLimit && len(records) < limit; page++ {
		var batch []models.ContentRecord
		err := s.do(ctx, weibo.ClassContainer, "search_posts", func(sess *weibo.Session) error {
			var err error
			batch, err = s.client.SearchPosts(ctx, sess, query, page)
			return err
		})
		if err != nil {
			return "", err
		}
		if len(batch) == 0 {
			break
		}
		records = append(records, batch...)
	}

	if len(records) > limit {
		records = records[:limit]
	}
	return s.finish(key, records)
}

// GetPostDetail returns a single post with expanded text.
func (s *WeiboService) GetPostDetail(ctx context.Context, id string) (string, error) {
	key := cache.Key("get_post_detail", id)
	if payload, ok := s.results.Get(key); ok {
		return payload, nil
	}

	var record *models.ContentRecord
	err := s.do(ctx, weibo.ClassDetail, "get_post_detail", func(sess *weibo.Session) error {
		var err error
		record, err = s.client.PostDetail(ctx, sess, id)
		return err
	})
	if err != nil {
		return "", err
	}
	return s.finish(key, record)
}

// do runs one upstream query with the full retry discipline: limiter gate
// before every attempt, at most one session refresh on an auth failure, and
// bounded backoff retries on throttling and network errors. Format errors
// are never retried.
func (s *WeiboService) do(ctx context.Context, class weibo.Class, op string, fn func(*weibo.Session) error) error {
	callID := uuid.NewString()[:8]

	retryBackoff := backoff.NewExponentialBackOff()
	retryBackoff.InitialInterval = s.backoffInitial
	retryBackoff.MaxInterval = s.backoffMax
	retryBackoff.MaxElapsedTime = 0
	retryBackoff.Reset()

	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.limiter.Acquire(ctx, class); err != nil {
			return err
		}

		sess, err := s.sessions.Current(ctx)
		if err != nil {
			return err
		}

		err = fn(sess)
		if err == nil {
			s.limiter.Settled(class)
			return nil
		}
		lastErr = err

		switch weibo.KindOf(err) {
		case weibo.KindUnauthenticated:
			if refreshed {
				return err
			}
			s.sessions.Invalidate(sess)
			if _, rerr := s.sessions.Refresh(ctx); rerr != nil {
				return rerr
			}
			refreshed = true
			// The single post-refresh retry does not consume the attempt budget.
			attempt--
		case weibo.KindRateLimited:
			d := s.limiter.Throttled(class)
			logging.Debug("[%s] %s throttled upstream, class %s holding %s (attempt %d/%d)", callID, op, class, d, attempt, s.maxAttempts)
		case weibo.KindNetwork:
			if attempt < s.maxAttempts {
				d := retryBackoff.NextBackOff()
				logging.Debug("[%s] %s network error, retrying in %s (attempt %d/%d): %v", callID, op, d, attempt, s.maxAttempts, err)
				if werr := s.sleep(ctx, d); werr != nil {
					return lastErr
				}
			}
		default:
			return err
		}
	}
	return lastErr
}

// finish marshals the result, memoizes it and returns the payload.
func (s *WeiboService) finish(key string, v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", weibo.E(weibo.KindInternal, "dispatch.marshal", err)
	}
	payload := string(b)
	s.results.Put(key, payload)
	return payload, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
