package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/database"
	"github.com/nerrad567/mqttprobe/internal/probe"
	"github.com/nerrad567/mqttprobe/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return NewSQLiteRepository(db)
}

func TestRecordAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	code := byte(0)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	connect := &Event{
		RunID:      "run-1",
		Kind:       KindConnect,
		ClientID:   "publisher1",
		Broker:     "10.23.106.20:8883",
		ReturnCode: &code,
		Latency:    12 * time.Millisecond,
		OccurredAt: base,
	}
	publish := &Event{
		RunID:       "run-1",
		Kind:        KindPublish,
		ClientID:    "publisher1",
		Topic:       "mutual/test",
		QoS:         1,
		MessageID:   1,
		PayloadSize: 8,
		Latency:     3 * time.Millisecond,
		OccurredAt:  base.Add(time.Second),
	}
	require.NoError(t, repo.Record(ctx, connect))
	require.NoError(t, repo.Record(ctx, publish))

	assert.NotEmpty(t, connect.ID, "ID should be generated")

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, DefaultLimit, res.Limit)
	require.Len(t, res.Events, 2)

	// Most recent first.
	got := res.Events[0]
	assert.Equal(t, KindPublish, got.Kind)
	assert.Equal(t, "mutual/test", got.Topic)
	assert.Equal(t, byte(1), got.QoS)
	assert.Equal(t, uint16(1), got.MessageID)
	assert.Equal(t, 8, got.PayloadSize)
	assert.Equal(t, 3*time.Millisecond, got.Latency)
	assert.Nil(t, got.ReturnCode)
	assert.True(t, got.OccurredAt.Equal(base.Add(time.Second)))

	first := res.Events[1]
	require.NotNil(t, first.ReturnCode)
	assert.Equal(t, byte(0), *first.ReturnCode)
	assert.Equal(t, "10.23.106.20:8883", first.Broker)
}

func TestRecord_Defaults(t *testing.T) {
	repo := openTestRepo(t)

	e := &Event{RunID: "run-1", Kind: KindMessage, ClientID: "subscriber1"}
	require.NoError(t, repo.Record(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestRecord_Invalid(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event Event
	}{
		{"missing run", Event{Kind: KindConnect, ClientID: "c"}},
		{"missing client", Event{RunID: "r", Kind: KindConnect}},
		{"unknown kind", Event{RunID: "r", Kind: "subscribe", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Record(ctx, &tt.event)
			assert.True(t, errors.Is(err, ErrInvalidEvent), "error = %v", err)
		})
	}
}

func TestList_Filters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(ctx, &Event{RunID: "run-a", Kind: KindMessage, ClientID: "subscriber1"}))
	}
	require.NoError(t, repo.Record(ctx, &Event{RunID: "run-a", Kind: KindConnect, ClientID: "subscriber1"}))
	require.NoError(t, repo.Record(ctx, &Event{RunID: "run-b", Kind: KindMessage, ClientID: "subscriber1"}))

	byRun, err := repo.List(ctx, Filter{RunID: "run-a"})
	require.NoError(t, err)
	assert.Equal(t, 4, byRun.Total)

	byKind, err := repo.List(ctx, Filter{Kind: KindMessage})
	require.NoError(t, err)
	assert.Equal(t, 4, byKind.Total)

	both, err := repo.List(ctx, Filter{RunID: "run-a", Kind: KindConnect})
	require.NoError(t, err)
	assert.Equal(t, 1, both.Total)
	require.Len(t, both.Events, 1)
	assert.Equal(t, KindConnect, both.Events[0].Kind)

	none, err := repo.List(ctx, Filter{RunID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total)
	assert.NotNil(t, none.Events)
}

func TestList_Pagination(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, &Event{
			RunID:      "run-1",
			Kind:       KindPublish,
			ClientID:   "publisher1",
			MessageID:  uint16(i + 1),
			OccurredAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint16(4), page.Events[0].MessageID)
	assert.Equal(t, uint16(3), page.Events[1].MessageID)
}

func TestList_LimitClamping(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{10, 10},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			res, err := repo.List(ctx, Filter{Limit: tt.in, Offset: -1})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Limit)
			assert.Equal(t, 0, res.Offset)
		})
	}
}

// =============================================================================
// Recorder
// =============================================================================

type warnLogger struct {
	warnings []string
}

func (l *warnLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }

func TestRecorder(t *testing.T) {
	repo := openTestRepo(t)
	rec := NewRecorder(repo, nil)
	ctx := context.Background()
	now := time.Now()

	rec.RecordConnect(ctx, probe.ConnectEvent{RunID: "run-1", ClientID: "subscriber1", ReturnCode: 5, At: now})
	rec.RecordPublish(ctx, probe.PublishEvent{RunID: "run-1", ClientID: "subscriber1", Topic: "mutual/test", Size: 8, At: now})
	rec.RecordMessage(ctx, probe.MessageEvent{RunID: "run-1", ClientID: "subscriber1", Topic: "mutual/test", Size: 14, At: now})
	rec.RecordError(ctx, probe.ErrorEvent{RunID: "run-1", ClientID: "subscriber1", Stage: "subscribe", Err: errors.New("denied"), At: now})

	res, err := repo.List(ctx, Filter{RunID: "run-1", Limit: MaxLimit})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)

	byKind := map[Kind]Event{}
	for _, e := range res.Events {
		byKind[e.Kind] = e
	}
	require.NotNil(t, byKind[KindConnect].ReturnCode)
	assert.Equal(t, byte(5), *byKind[KindConnect].ReturnCode)
	assert.Equal(t, 8, byKind[KindPublish].PayloadSize)
	assert.Equal(t, 14, byKind[KindMessage].PayloadSize)
	assert.Equal(t, "subscribe: denied", byKind[KindError].Detail)
}

func TestRecorder_CancelledContextStillRecords(t *testing.T) {
	repo := openTestRepo(t)
	rec := NewRecorder(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.RecordMessage(ctx, probe.MessageEvent{RunID: "run-1", ClientID: "subscriber1", At: time.Now()})

	res, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestRecorder_LogsFailures(t *testing.T) {
	repo := openTestRepo(t)
	logger := &warnLogger{}
	rec := NewRecorder(repo, logger)

	// Missing client ID is rejected by the repository.
	rec.RecordConnect(context.Background(), probe.ConnectEvent{RunID: "run-1"})

	assert.Equal(t, []string{"journal write failed"}, logger.warnings)
}
