package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DieRekT/trove-research/internal/resilience"
)

func intPtr(v int) *int { return &v }

func fastClient(t *testing.T, srvURL string) Client {
	t.Helper()
	return NewClient("test-key",
		WithBaseURL(srvURL),
		WithRetryPolicy(resilience.Policy{Attempts: 1}),
	)
}

func troveEnvelope(total int, articles ...map[string]any) map[string]any {
	list := make([]any, len(articles))
	for i, a := range articles {
		list[i] = a
	}
	return map[string]any{
		"category": []any{
			map[string]any{
				"records": map[string]any{
					"total":   float64(total),
					"article": list,
				},
			},
		},
	}
}

func TestFetchPage_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		q := r.URL.Query()
		assert.Equal(t, "Iluka mineral sands", q.Get("q"))
		assert.Equal(t, "newspaper", q.Get("category"))
		assert.Equal(t, "50", q.Get("n"))
		assert.Equal(t, "50", q.Get("s")) // page 2 at size 50
		assert.Equal(t, "WA", q.Get("l-state"))
		assert.Equal(t, "1945", q.Get("l-year-from"))

		json.NewEncoder(w).Encode(troveEnvelope(123,
			map[string]any{"id": "1", "heading": "First", "articleText": "text one"},
			map[string]any{"id": "2", "heading": "Second", "articleText": "text two"},
		))
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	result, err := client.FetchPage(context.Background(), PageRequest{
		Query:     "Iluka mineral sands",
		Page:      2,
		PageSize:  50,
		YearsFrom: intPtr(1945),
		Region:    "WA",
	})

	require.NoError(t, err)
	assert.Equal(t, 123, result.EstimatedTotal)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "trove:1", result.Sources[0].ID)
	assert.Empty(t, result.DroppedFilters)
}

func TestFetchPage_FilterRejectedRetriesWithout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("l-state") != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"description":"unsupported facet l-state"}`))
			return
		}
		json.NewEncoder(w).Encode(troveEnvelope(1,
			map[string]any{"id": "7", "heading": "Recovered"},
		))
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	result, err := client.FetchPage(context.Background(), PageRequest{
		Query:    "gold rush",
		Page:     1,
		PageSize: 20,
		Region:   "WA",
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, result.Sources, 1)
	assert.Equal(t, []string{"region"}, result.DroppedFilters)
}

func TestFetchPage_RegionRejectedKeepsDateFilter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("l-state") != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"description":"unsupported facet l-state"}`))
			return
		}
		lastQuery.Store(r.URL.Query())
		json.NewEncoder(w).Encode(troveEnvelope(1,
			map[string]any{"id": "7", "heading": "Recovered"},
		))
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	result, err := client.FetchPage(context.Background(), PageRequest{
		Query:     "gold rush",
		Page:      1,
		PageSize:  20,
		Region:    "WA",
		YearsFrom: intPtr(1945),
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	// Only the rejected filter was shed; the year window survived the retry.
	assert.Equal(t, []string{"region"}, result.DroppedFilters)
	q := lastQuery.Load().(url.Values)
	assert.Equal(t, "1945", q.Get("l-year-from"))
	assert.Empty(t, q.Get("l-state"))
}

func TestFetchPage_AllFiltersRejectedDropsEach(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("l-state") != "" || q.Get("l-year-from") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(troveEnvelope(1,
			map[string]any{"id": "8", "heading": "Bare query"},
		))
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	result, err := client.FetchPage(context.Background(), PageRequest{
		Query:     "gold rush",
		Page:      1,
		PageSize:  20,
		Region:    "WA",
		YearsFrom: intPtr(1945),
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"region", "date"}, result.DroppedFilters)
}

func TestFetchPage_BadRequestWithoutFiltersIsUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	_, err := client.FetchPage(context.Background(), PageRequest{Query: "q", Page: 1, PageSize: 10})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadRequest, upstream.Status)
}

func TestFetchPage_ServerErrorIsUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	_, err := client.FetchPage(context.Background(), PageRequest{Query: "q", Page: 3, PageSize: 10})

	require.Error(t, err)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 3, upstream.Page)
}

func TestFetchPage_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(troveEnvelope(1, map[string]any{"id": "9", "heading": "OK"}))
	}))
	defer srv.Close()

	client := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRetryPolicy(resilience.Policy{Attempts: 2, BaseDelay: 1, MaxDelay: 1}),
	)
	result, err := client.FetchPage(context.Background(), PageRequest{Query: "q", Page: 1, PageSize: 10})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, result.Sources, 1)
}

func TestFetchPage_FlatEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total": 2,
			"records": []any{
				map[string]any{"id": "a", "title": "Alpha"},
				map[string]any{"id": "b", "title": "Beta"},
			},
		})
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	result, err := client.FetchPage(context.Background(), PageRequest{Query: "q", Page: 1, PageSize: 10})

	require.NoError(t, err)
	assert.Equal(t, 2, result.EstimatedTotal)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "trove:a", result.Sources[0].ID)
}

func TestFetchPage_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := fastClient(t, srv.URL)
	_, err := client.FetchPage(context.Background(), PageRequest{Query: "q", Page: 1, PageSize: 10})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
