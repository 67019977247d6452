package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/database"
	"syncqueue/internal/events"
	"syncqueue/internal/models"
	"syncqueue/internal/transport"
	"syncqueue/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDrainer struct {
	mock.Mock
}

func (m *mockDrainer) Drain(ctx context.Context) (worker.DrainReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(worker.DrainReport), args.Error(1)
}

func (m *mockDrainer) Syncing() bool {
	return m.Called().Bool(0)
}

type recordingPool struct {
	mu   sync.Mutex
	jobs []worker.Job
	err  error
}

func (p *recordingPool) Submit(job worker.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "svc.db"), config.DriverCGO, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnqueueComposesRow(t *testing.T) {
	db := newTestDB(t)
	drainer := new(mockDrainer)
	pool := &recordingPool{}
	svc := NewSyncService(db, drainer, pool, events.NewPublisher(), nil)
	svc.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	desc := json.RawMessage(`{
		"msg_id": "m-1",
		"type": "telemetry",
		"priority": 2,
		"item_count": 7,
		"config": "{\"shouldPublishResult\":true}",
		"request": "{\"host\":\"https://h\",\"path\":\"/api/telemetry\",\"type\":\"POST\",\"headers\":{\"a\":\"b\"},\"serializer\":\"json\"}"
	}`)

	id, err := svc.Enqueue(ctx, json.RawMessage(`{"events":[1]}`), desc, false)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	assert.Empty(t, pool.jobs)

	rows, err := db.Seed(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Priority)
	assert.Equal(t, int64(42), rows[0].Timestamp)

	entry, err := models.EntryFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, models.EntryTelemetry, entry.Type)
	assert.Equal(t, 7, entry.EventCount)
	assert.True(t, entry.Config.ShouldPublishResult)
	assert.Equal(t, "b", entry.Request.Headers["a"])
	assert.JSONEq(t, `{"events":[1]}`, string(entry.Request.Body))
}

func TestEnqueueDefaults(t *testing.T) {
	db := newTestDB(t)
	drainer := new(mockDrainer)
	svc := NewSyncService(db, drainer, &recordingPool{}, events.NewPublisher(), nil)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, json.RawMessage(`"plain"`), json.RawMessage(`{"request":{"path":"/x"}}`), false)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	rows, _ := db.Seed(ctx)
	require.Len(t, rows, 1)
	assert.Equal(t, defaultPriority, rows[0].Priority)
	assert.NotZero(t, rows[0].Timestamp)
	assert.Empty(t, rows[0].Config)
}

func TestEnqueueInvalidDescriptor(t *testing.T) {
	svc := NewSyncService(newTestDB(t), new(mockDrainer), &recordingPool{}, events.NewPublisher(), nil)
	ctx := context.Background()

	cases := []string{
		`not json`,
		`{}`,
		`{"request":42}`,
		`{"request":"{broken"}`,
		`{"request":"[1,2]"}`,
		`{"request":{"path":"/x"},"config":"{nope"}`,
	}
	for _, c := range cases {
		_, err := svc.Enqueue(ctx, nil, json.RawMessage(c), false)
		assert.ErrorIs(t, err, ErrInvalidDescriptor, c)
	}
}

func TestEnqueueDuplicateMsgID(t *testing.T) {
	svc := NewSyncService(newTestDB(t), new(mockDrainer), &recordingPool{}, events.NewPublisher(), nil)
	ctx := context.Background()
	desc := json.RawMessage(`{"msg_id":"same","request":{"path":"/x"}}`)

	_, err := svc.Enqueue(ctx, nil, desc, false)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, nil, desc, false)
	assert.Error(t, err)
}

func TestEnqueueTriggersSync(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	desc := json.RawMessage(`{"request":{"path":"/x"}}`)

	t.Run("IdleTriggers", func(t *testing.T) {
		drainer := new(mockDrainer)
		drainer.On("Syncing").Return(false)
		pool := &recordingPool{}
		svc := NewSyncService(db, drainer, pool, events.NewPublisher(), nil)

		_, err := svc.Enqueue(ctx, nil, desc, true)
		require.NoError(t, err)
		require.Len(t, pool.jobs, 1)

		drainer.On("Drain", mock.Anything).Return(worker.DrainReport{Sent: 1}, nil).Once()
		pool.jobs[0](ctx)
		drainer.AssertExpectations(t)
	})

	t.Run("BusySkips", func(t *testing.T) {
		drainer := new(mockDrainer)
		drainer.On("Syncing").Return(true)
		pool := &recordingPool{}
		svc := NewSyncService(db, drainer, pool, events.NewPublisher(), nil)

		_, err := svc.Enqueue(ctx, nil, desc, true)
		require.NoError(t, err)
		assert.Empty(t, pool.jobs)
	})

	t.Run("PoolFullStillPersists", func(t *testing.T) {
		drainer := new(mockDrainer)
		drainer.On("Syncing").Return(false)
		svc := NewSyncService(db, drainer, &recordingPool{err: worker.ErrPoolFull}, events.NewPublisher(), nil)

		_, err := svc.Enqueue(ctx, nil, desc, true)
		assert.NoError(t, err)
		assert.ErrorIs(t, svc.Sync(), worker.ErrPoolFull)
	})
}

func TestStatus(t *testing.T) {
	db := newTestDB(t)
	drainer := new(mockDrainer)
	drainer.On("Syncing").Return(false)
	pub := events.NewPublisher()
	svc := NewSyncService(db, drainer, &recordingPool{}, pub, nil)
	ctx := context.Background()

	cancel := svc.Subscribe(func(*models.SyncEvent) {})
	defer cancel()
	_, err := svc.Enqueue(ctx, nil, json.RawMessage(`{"request":{"path":"/x"}}`), false)
	require.NoError(t, err)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{Pending: 1, Syncing: false, Subscribers: 1}, st)

	db.Close()
	_, err = svc.Status(ctx)
	assert.Error(t, err)
}

func TestEndToEndDrain(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/reject" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	pub := events.NewPublisher()
	tr := transport.New(config.RemoteConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)
	proc := worker.NewProcessor(db, tr, nil, pub, nil)
	pool := worker.NewPool(1, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	svc := NewSyncService(db, proc, pool, pub, nil)

	received := make(chan *models.SyncEvent, 4)
	svc.Subscribe(func(e *models.SyncEvent) { received <- e })

	_, err := svc.Enqueue(ctx, nil, json.RawMessage(`{"priority":2,"type":"course_progress","config":{"shouldPublishResult":true},"request":{"path":"/progress"}}`), false)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, nil, json.RawMessage(`{"priority":1,"request":{"path":"/reject"}}`), true)
	require.NoError(t, err)

	var got []*models.SyncEvent
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-received:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}
	pool.Stop()

	assert.Equal(t, models.EventErrorBadRequest, got[0].Error)
	assert.JSONEq(t, `{"ok":true}`, string(got[1].CourseProgressResponse))
	assert.Equal(t, []string{"/reject", "/progress"}, paths)

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
}

func TestSyncNow(t *testing.T) {
	drainer := new(mockDrainer)
	drainer.On("Drain", mock.Anything).Return(worker.DrainReport{}, worker.ErrSyncInProgress).Once()
	svc := NewSyncService(newTestDB(t), drainer, &recordingPool{}, events.NewPublisher(), nil)

	_, err := svc.SyncNow(context.Background())
	assert.True(t, errors.Is(err, worker.ErrSyncInProgress))
}
