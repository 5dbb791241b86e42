package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weibomcp/internal/cache"
	"weibomcp/internal/weibo"
	"weibomcp/pkg/models"
)

// mockClient scripts the upstream per method and counts calls.
type mockClient struct {
	profileCalls     int32
	containerCalls   int32
	feedsCalls       int32
	searchUserCalls  int32
	searchPostCalls  int32
	detailCalls      int32

	profileFn    func(call int) (*models.UserProfile, error)
	feedsFn      func(call int, sinceID string) (*models.PagedFeeds, error)
	searchUserFn func(call int) ([]models.UserSearchResult, error)
	searchPostFn func(call, page int) ([]models.ContentRecord, error)
	detailFn     func(call int) (*models.ContentRecord, error)
}

func (m *mockClient) Profile(ctx context.Context, sess *weibo.Session, uid int64) (*models.UserProfile, error) {
	call := int(atomic.AddInt32(&m.profileCalls, 1))
	return m.profileFn(call)
}

func (m *mockClient) ContainerID(ctx context.Context, sess *weibo.Session, uid int64) (string, error) {
	atomic.AddInt32(&m.containerCalls, 1)
	return "107603", nil
}

func (m *mockClient) FeedsPage(ctx context.Context, sess *weibo.Session, uid int64, containerID, sinceID string) (*models.PagedFeeds, error) {
	call := int(atomic.AddInt32(&m.feedsCalls, 1))
	return m.feedsFn(call, sinceID)
}

func (m *mockClient) SearchUsers(ctx context.Context, sess *weibo.Session, keyword string, page int) ([]models.UserSearchResult, error) {
	call := int(atomic.AddInt32(&m.searchUserCalls, 1))
	return m.searchUserFn(call)
}

func (m *mockClient) SearchPosts(ctx context.Context, sess *weibo.Session, query string, page int) ([]models.ContentRecord, error) {
	call := int(atomic.AddInt32(&m.searchPostCalls, 1))
	return m.searchPostFn(call, page)
}

func (m *mockClient) PostDetail(ctx context.Context, sess *weibo.Session, id string) (*models.ContentRecord, error) {
	call := int(atomic.AddInt32(&m.detailCalls, 1))
	return m.detailFn(call)
}

type countingBoot struct {
	calls int32
}

func (b *countingBoot) Bootstrap(ctx context.Context) ([]*http.Cookie, error) {
	atomic.AddInt32(&b.calls, 1)
	return []*http.Cookie{{Name: "_T_WM", Value: "visitor"}}, nil
}

func newTestService(client UpstreamClient, boot weibo.Bootstrapper) *WeiboService {
	sessions := weibo.NewSessionManager("", time.Hour, boot)
	limiter := weibo.NewLimiter(weibo.LimiterConfig{
		RequestsPerSecond: 1000,
		Burst:             100,
		AcquireTimeout:    time.Second,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
	})
	results := cache.New(64, time.Minute)
	svc := NewWeiboService(client, sessions, limiter, results, 3, time.Millisecond, 5*time.Millisecond)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func postBatch(start, n int) []models.ContentRecord {
	records := make([]models.ContentRecord, n)
	for i := range records {
		records[i] = models.ContentRecord{ID: fmt.Sprintf("%d", start+i), Text: fmt.Sprintf("post %d", start+i)}
	}
	return records
}

func TestSearchPosts_TwoPagesTruncatedInOrder(t *testing.T) {
	client := &mockClient{
		searchPostFn: func(call, page int) ([]models.ContentRecord, error) {
			switch page {
			case 1:
				return postBatch(1, 8), nil
			case 2:
				return postBatch(9, 7), nil
			}
			return nil, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.SearchPosts(context.Background(), "weather", 10, 3)
	require.NoError(t, err)

	var records []models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	require.Len(t, records, 10)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("%d", i+1), r.ID, "records must keep upstream order")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&client.searchPostCalls), "limit reached after two pages")
}

func TestSearchPosts_StopsOnEmptyPage(t *testing.T) {
	client := &mockClient{
		searchPostFn: func(call, page int) ([]models.ContentRecord, error) {
			if page == 1 {
				return postBatch(1, 3), nil
			}
			return nil, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.SearchPosts(context.Background(), "rare topic", 10, 5)
	require.NoError(t, err)

	var records []models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	assert.Len(t, records, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&client.searchPostCalls), "an empty page ends pagination")
}

func TestGetProfile_AuthFailureRefreshesOnceThenSucceeds(t *testing.T) {
	boot := &countingBoot{}
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			if call == 1 {
				return nil, weibo.Errorf(weibo.KindUnauthenticated, "client.profile", "upstream rejected credentials with status 403")
			}
			return &models.UserProfile{ID: 42, ScreenName: "answer"}, nil
		},
	}
	svc := newTestService(client, boot)

	payload, err := svc.GetProfile(context.Background(), 42)
	require.NoError(t, err)

	var profile models.UserProfile
	require.NoError(t, json.Unmarshal([]byte(payload), &profile))
	assert.Equal(t, "answer", profile.ScreenName)

	assert.Equal(t, int32(2), atomic.LoadInt32(&client.profileCalls), "one retry after the refresh")
	// One bootstrap for the lazy initial session, one for the refresh.
	assert.Equal(t, int32(2), atomic.LoadInt32(&boot.calls))
}

func TestGetProfile_SecondAuthFailureSurfaces(t *testing.T) {
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			return nil, weibo.Errorf(weibo.KindUnauthenticated, "client.profile", "upstream rejected credentials with status 403")
		},
	}
	svc := newTestService(client, &countingBoot{})

	_, err := svc.GetProfile(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, weibo.KindUnauthenticated, weibo.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&client.profileCalls), "only one refresh-and-retry")
}

func TestGetProfile_CacheHitSkipsUpstream(t *testing.T) {
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			return &models.UserProfile{ID: 42, ScreenName: "answer"}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	first, err := svc.GetProfile(context.Background(), 42)
	require.NoError(t, err)
	second, err := svc.GetProfile(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical requests within the TTL yield identical payloads")
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.profileCalls), "the second request must not call upstream")
}

func TestGetFeeds_PageLimitBoundsQueries(t *testing.T) {
	client := &mockClient{
		feedsFn: func(call int, sinceID string) (*models.PagedFeeds, error) {
			return &models.PagedFeeds{
				Records: postBatch(call*100, 10),
				SinceID: fmt.Sprintf("cursor-%d", call),
			}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.GetFeeds(context.Background(), 42, 50, 3)
	require.NoError(t, err)

	var records []models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	assert.Len(t, records, 30, "three pages of ten records each")
	assert.Equal(t, int32(3), atomic.LoadInt32(&client.feedsCalls), "page_limit caps page queries")
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.containerCalls))
	assert.Equal(t, "100", records[0].ID)
	assert.Equal(t, "300", records[20].ID)
}

func TestGetFeeds_TruncatesToLimit(t *testing.T) {
	client := &mockClient{
		feedsFn: func(call int, sinceID string) (*models.PagedFeeds, error) {
			return &models.PagedFeeds{Records: postBatch(call*100, 10), SinceID: fmt.Sprintf("c%d", call)}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.GetFeeds(context.Background(), 42, 15, 5)
	require.NoError(t, err)

	var records []models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	assert.Len(t, records, 15)
	assert.Equal(t, int32(2), atomic.LoadInt32(&client.feedsCalls), "pagination stops once the limit is met")
}

func TestGetFeeds_StopsOnExhaustedCursor(t *testing.T) {
	client := &mockClient{
		feedsFn: func(call int, sinceID string) (*models.PagedFeeds, error) {
			return &models.PagedFeeds{Records: postBatch(1, 4), SinceID: ""}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.GetFeeds(context.Background(), 42, 50, 5)
	require.NoError(t, err)

	var records []models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	assert.Len(t, records, 4)
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.feedsCalls))
}

func TestSearchUsers_TruncatesToLimit(t *testing.T) {
	client := &mockClient{
		searchUserFn: func(call int) ([]models.UserSearchResult, error) {
			users := make([]models.UserSearchResult, 15)
			for i := range users {
				users[i] = models.UserSearchResult{ID: int64(i + 1), ScreenName: fmt.Sprintf("user%d", i+1)}
			}
			return users, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.SearchUsers(context.Background(), "weather", 10)
	require.NoError(t, err)

	var users []models.UserSearchResult
	require.NoError(t, json.Unmarshal([]byte(payload), &users))
	require.Len(t, users, 10)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, int64(10), users[9].ID)
}

func TestDispatch_UpstreamFormatNotRetried(t *testing.T) {
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			return nil, weibo.Errorf(weibo.KindUpstreamFormat, "client.profile", "no userInfo in payload")
		},
	}
	svc := newTestService(client, &countingBoot{})

	_, err := svc.GetProfile(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, weibo.KindUpstreamFormat, weibo.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.profileCalls), "format errors are defect signals, never retried")
}

func TestDispatch_RateLimitedRetriesAreBounded(t *testing.T) {
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			return nil, weibo.Errorf(weibo.KindRateLimited, "client.profile", "upstream throttled with status 429")
		},
	}
	svc := newTestService(client, &countingBoot{})

	_, err := svc.GetProfile(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, weibo.KindRateLimited, weibo.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&client.profileCalls), "attempt budget bounds throttle retries")
}

func TestDispatch_NetworkErrorRetriesThenSucceeds(t *testing.T) {
	client := &mockClient{
		detailFn: func(call int) (*models.ContentRecord, error) {
			if call < 3 {
				return nil, weibo.Errorf(weibo.KindNetwork, "client.post_detail", "connection reset")
			}
			return &models.ContentRecord{ID: "7001", Text: "recovered"}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	payload, err := svc.GetPostDetail(context.Background(), "7001")
	require.NoError(t, err)

	var record models.ContentRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &record))
	assert.Equal(t, "recovered", record.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&client.detailCalls))
}

func TestDispatch_DifferentArgumentsMissCache(t *testing.T) {
	client := &mockClient{
		profileFn: func(call int) (*models.UserProfile, error) {
			return &models.UserProfile{ID: int64(call)}, nil
		},
	}
	svc := newTestService(client, &countingBoot{})

	_, err := svc.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.GetProfile(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&client.profileCalls))
}
