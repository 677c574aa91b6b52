package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/fetcher/internal/core/domain"
)

func TestKeyHelpers(t *testing.T) {
	if got := queueKey("prod"); got != "failed_fetches:prod" {
		t.Errorf("queueKey = %s", got)
	}
	if got := entryKey("prod", "abc"); got != "failed_fetch:prod:abc" {
		t.Errorf("entryKey = %s", got)
	}
}

func TestNewFailedFetchRepo_Defaults(t *testing.T) {
	r := NewFailedFetchRepo(&Client{}, Config{})
	if r.namespace != "fetcher" {
		t.Errorf("Expected default namespace, got %s", r.namespace)
	}
	if r.ttl != 24*time.Hour {
		t.Errorf("Expected 24h TTL, got %v", r.ttl)
	}

	r = NewFailedFetchRepo(&Client{}, Config{Namespace: "jobs", TTL: time.Hour})
	if r.namespace != "jobs" || r.ttl != time.Hour {
		t.Errorf("Unexpected repo settings %s %v", r.namespace, r.ttl)
	}
}

func TestMatches(t *testing.T) {
	pending := &domain.FailedFetch{Name: "prices", Status: domain.FailedFetchStatusPending}
	resolved := &domain.FailedFetch{Name: "prices", Status: domain.FailedFetchStatusResolved}

	if !matches(pending, "") || !matches(pending, "prices") {
		t.Error("pending entry should match its name and the wildcard")
	}
	if matches(pending, "blocks") {
		t.Error("entry should not match another job")
	}
	if matches(resolved, "") {
		t.Error("resolved entries are not pending")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not-a-url"}); err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func newTestRepo(t *testing.T, ttl time.Duration) (*FailedFetchRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewFailedFetchRepo(client, Config{Namespace: "test", TTL: ttl}), mr
}

func TestFailedFetchRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t, time.Hour)

	first := &domain.FailedFetch{Name: "prices", Request: domain.Request{Target: "http://a"}}
	second := &domain.FailedFetch{Name: "prices", Request: domain.Request{Target: "http://b"}}
	other := &domain.FailedFetch{Name: "blocks"}
	for _, ff := range []*domain.FailedFetch{first, second, other} {
		require.NoError(t, repo.Add(ctx, ff))
		assert.NotEmpty(t, ff.ID)
		assert.Equal(t, domain.FailedFetchStatusPending, ff.Status)
	}

	counts := []struct {
		name string
		want int
	}{
		{"", 3},
		{"prices", 2},
		{"blocks", 1},
		{"missing", 0},
	}
	for _, tt := range counts {
		got, err := repo.Count(ctx, tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Count(%q)", tt.name)
	}

	// The entry with fewer replays comes first.
	require.NoError(t, repo.IncrementRetry(ctx, first.ID))
	next, err := repo.GetNext(ctx, "prices")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)
	assert.Equal(t, "http://b", next.Request.Target)

	require.NoError(t, repo.IncrementRetry(ctx, second.ID))
	require.NoError(t, repo.IncrementRetry(ctx, second.ID))
	next, err = repo.GetNext(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)
	assert.Equal(t, 1, next.RetryCount)

	require.NoError(t, repo.MarkResolved(ctx, first.ID))
	prices, err := repo.GetAll(ctx, "prices")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, second.ID, prices[0].ID)
	assert.Equal(t, 2, prices[0].RetryCount)

	next, err = repo.GetNext(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFailedFetchRepo_IncrementRetryUnknown(t *testing.T) {
	repo, _ := newTestRepo(t, time.Hour)
	assert.Error(t, repo.IncrementRetry(context.Background(), "nope"))
}

func TestFailedFetchRepo_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t, time.Minute)

	ff := &domain.FailedFetch{Name: "prices"}
	require.NoError(t, repo.Add(ctx, ff))
	assert.Equal(t, time.Minute, mr.TTL(entryKey("test", ff.ID)))

	mr.FastForward(2 * time.Minute)

	// The queue still holds the ID until a read notices the blob is gone.
	members, err := mr.ZMembers(queueKey("test"))
	require.NoError(t, err)
	assert.Len(t, members, 1)

	count, err := repo.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	all, err := repo.GetAll(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	members, _ = mr.ZMembers(queueKey("test"))
	assert.Empty(t, members, "expired IDs are pruned from the queue")
}

func TestFailedFetchRepo_RetryRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t, time.Minute)

	ff := &domain.FailedFetch{Name: "prices"}
	require.NoError(t, repo.Add(ctx, ff))
	mr.FastForward(45 * time.Second)
	require.NoError(t, repo.IncrementRetry(ctx, ff.ID))
	mr.FastForward(45 * time.Second)

	count, err := repo.Count(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
