package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"metasync/internal/alerting"
	"metasync/internal/config"
	"metasync/internal/database"
	"metasync/internal/models"
	"metasync/internal/processor"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	mu      sync.Mutex
	upserts map[string]int
}

func (s *stubCatalog) Upsert(_ context.Context, item *models.CatalogItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upserts == nil {
		s.upserts = make(map[string]int)
	}
	s.upserts[item.RetailerID]++
	return "ext-" + item.RetailerID, nil
}

func (s *stubCatalog) Delete(context.Context, string) error { return nil }

func (s *stubCatalog) Get(context.Context, string) (*models.CatalogItem, error) {
	return nil, nil
}

func (s *stubCatalog) ListAll(context.Context, int) ([]*models.CatalogItem, error) {
	return nil, nil
}

func (s *stubCatalog) VerifyAccess(context.Context) error { return nil }

func (s *stubCatalog) count(retailerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[retailerID]
}

func setupWorker(t *testing.T, redisClient *redis.Client) (*Worker, *database.DB, *stubCatalog) {
	t.Helper()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog := &stubCatalog{}
	proc := processor.New(db, db, catalog, alerting.Noop{}, nil, processor.Options{}, &logger)
	w := New(proc, db, redisClient, config.SyncConfig{PollInterval: 20 * time.Millisecond}, &logger)
	return w, db, catalog
}

func seedProduct(t *testing.T, db *database.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO products (id, name, description, price, image_url, in_stock)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, "Ceramic Mug", "A mug", "19.99", "https://cdn.example.com/mug.jpg", true,
	)
	require.NoError(t, err)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueValidation(t *testing.T) {
	w, _, _ := setupWorker(t, nil)
	ctx := context.Background()

	require.Error(t, w.Enqueue(ctx, "", models.OpCreate))
	require.Error(t, w.Enqueue(ctx, "p-1", models.Operation("BOGUS")))
	require.NoError(t, w.Enqueue(ctx, "p-1", models.OpCreate))
}

func TestStartConsumesQueuedTask(t *testing.T) {
	w, db, catalog := setupWorker(t, nil)
	seedProduct(t, db, "p-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Enqueue(ctx, "p-1", models.OpCreate))
	go w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return catalog.count("p-1") >= 1 })
	cancel()

	record, err := db.GetSyncRecord(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSynced, record.Status)
}

func TestEnqueueThroughRedis(t *testing.T) {
	s := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	w, db, catalog := setupWorker(t, redisClient)
	seedProduct(t, db, "p-2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Enqueue(ctx, "p-2", models.OpCreate))
	require.Equal(t, 1, len(s.Keys()))

	go w.Start(ctx)
	waitFor(t, 2*time.Second, func() bool { return catalog.count("p-2") >= 1 })
}

func TestPollLoopSkipsTerminalFailures(t *testing.T) {
	w, db, catalog := setupWorker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Missing description fails validation, which is terminal.
	_, err := db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, price, image_url, in_stock)
         VALUES (?, ?, ?, ?, ?, ?)`,
		"bad", "Ceramic Mug", "", "19.99", "https://cdn.example.com/mug.jpg", true,
	)
	require.NoError(t, err)

	require.NoError(t, w.Enqueue(ctx, "bad", models.OpCreate))
	go w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		record, err := db.GetSyncRecord(context.Background(), "bad")
		return err == nil && record != nil && record.Terminal
	})

	// Let several poll passes go by: the terminal record must not be
	// retried and the audit log must not grow.
	time.Sleep(150 * time.Millisecond)
	cancel()

	logs, err := db.GetProductSyncLogs(context.Background(), "bad", 50)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, models.LogStatusFailed, logs[0].Status)
	require.Zero(t, catalog.count("bad"))
}

func TestPollLoopPicksUpPendingRecords(t *testing.T) {
	w, db, catalog := setupWorker(t, nil)
	seedProduct(t, db, "p-3")

	// A record left pending (restart, full queue) with nothing queued.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, db.UpsertSyncRecord(ctx, &models.SyncRecord{
		ProductID:  "p-3",
		RetailerID: "p-3",
		Status:     models.SyncStatusPending,
	}))

	go w.Start(ctx)
	waitFor(t, 2*time.Second, func() bool { return catalog.count("p-3") >= 1 })
}
