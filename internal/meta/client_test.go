package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"metasync/internal/config"
	"metasync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	client, err := NewClient(config.CatalogConfig{
		BaseURL:        serverURL,
		CatalogID:      "cat-1",
		AccessToken:    "test-token",
		RequestTimeout: 5 * time.Second,
		HourlyBudget:   10000,
	}, RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, &logger)
	require.NoError(t, err)
	return client
}

func sampleItem(id string) *models.CatalogItem {
	return &models.CatalogItem{
		RetailerID:   id,
		Name:         "Ceramic Mug",
		Description:  "A mug",
		Price:        1999,
		Currency:     "USD",
		Availability: models.AvailabilityInStock,
		ImageURL:     "https://cdn.example.com/mug.jpg",
	}
}

// fakeCatalog is an in-memory upstream keyed by retailer id.
type fakeCatalog struct {
	mu      sync.Mutex
	items   map[string]*models.CatalogItem
	upserts int
}

func (f *fakeCatalog) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header: %q", got)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.items == nil {
			f.items = make(map[string]*models.CatalogItem)
		}

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/items"):
			var item models.CatalogItem
			if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.items[item.RetailerID] = &item
			f.upserts++
			json.NewEncoder(w).Encode(map[string]string{"id": "ext-" + item.RetailerID})

		case r.Method == http.MethodDelete:
			id := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]
			if _, ok := f.items[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.items, id)
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/items/"):
			id := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]
			item, ok := f.items[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(item)

		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func TestUpsertIdempotent(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := httptest.NewServer(catalog.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	ctx := context.Background()

	first, err := client.Upsert(ctx, sampleItem("p-1"))
	require.NoError(t, err)
	second, err := client.Upsert(ctx, sampleItem("p-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "ext-p-1", first)
	assert.Len(t, catalog.items, 1)
}

func TestDeleteIdempotent(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := httptest.NewServer(catalog.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.Upsert(ctx, sampleItem("p-1"))
	require.NoError(t, err)

	require.NoError(t, client.Delete(ctx, "p-1"))
	// Second delete hits 404 upstream, still success at this layer
	require.NoError(t, client.Delete(ctx, "p-1"))
	require.NoError(t, client.Delete(ctx, "never-existed"))
}

func TestGetNotFound(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := httptest.NewServer(catalog.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRetryOnTransientThenSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ext-1"})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	id, err := client.Upsert(context.Background(), sampleItem("p-1"))
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
	assert.Equal(t, 3, calls)
}

func TestTerminalErrorFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"name too long"}}`)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Upsert(context.Background(), sampleItem("p-1"))
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindValidation, apiErr.Kind)
	assert.Equal(t, 0, apiErr.Retries)
	assert.Contains(t, apiErr.Error(), "name too long")
	assert.Equal(t, 1, calls, "terminal errors must not retry")
}

func TestRetriesExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Upsert(context.Background(), sampleItem("p-1"))
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindNetwork, apiErr.Kind)
	assert.Equal(t, 2, apiErr.Retries)
	assert.Equal(t, 3, calls) // initial call + MaxRetries
}

func TestAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.VerifyAccess(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestRateLimitHeadersRefreshBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(20*time.Millisecond).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ext-1"})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	id, err := client.Upsert(context.Background(), sampleItem("p-1"))
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
	assert.Equal(t, 2, calls)
}

func TestListAllPaginates(t *testing.T) {
	pages := map[string]listResponse{}

	page1 := listResponse{Data: []*models.CatalogItem{sampleItem("a"), sampleItem("b")}}
	page1.Paging.NextCursor = "c2"
	page2 := listResponse{Data: []*models.CatalogItem{sampleItem("c")}}
	pages[""] = page1
	pages["c2"] = page2

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("after")
		json.NewEncoder(w).Encode(pages[cursor])
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	items, err := client.ListAll(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].RetailerID)
	assert.Equal(t, "c", items[2].RetailerID)
}

func TestListAllHardCap(t *testing.T) {
	// Upstream that never stops paging
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := listResponse{}
		for i := 0; i < 5000; i++ {
			page.Data = append(page.Data, sampleItem(fmt.Sprintf("p-%d", i)))
		}
		page.Paging.NextCursor = "more"
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	items, err := client.ListAll(context.Background(), 5000)
	require.NoError(t, err)
	assert.Len(t, items, models.ListHardCap)
}

func TestNewClientMissingConfig(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	_, err := NewClient(config.CatalogConfig{BaseURL: "https://x"}, DefaultRetryPolicy(), &logger)
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}
