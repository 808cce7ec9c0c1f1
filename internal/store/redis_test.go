package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/kalshi-sync/internal/model"
)

func newTestStore(t *testing.T) (*RedisStore, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	st := NewRedisStoreWithClient(client, DefaultConfig(), nil)
	return st, mock
}

func testRecord(service string, state model.ConnectionState, changedAt time.Time) model.ConnectionStateRecord {
	return model.ConnectionStateRecord{
		ServiceName:    service,
		State:          state,
		StateChangedAt: changedAt.UnixMicro(),
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestPutAndGetRecord(t *testing.T) {
	st, mock := newTestStore(t)
	record := testRecord("kalshi", model.StateReady, time.Now())
	data := mustJSON(t, record)

	mock.ExpectHSet("feedsync:connections", "kalshi", data).SetVal(1)
	if ok := st.Put(context.Background(), record); !ok {
		t.Fatal("Put returned false on success")
	}

	mock.ExpectHGet("feedsync:connections", "kalshi").SetVal(string(data))
	got, err := st.Get(context.Background(), "kalshi")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.State != model.StateReady || got.ServiceName != "kalshi" {
		t.Errorf("Get = %+v, want stored record back", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetMissingRecordReturnsNil(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectHGet("feedsync:connections", "ghost").RedisNil()
	got, err := st.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for absent record", got)
	}
}

func TestGetMalformedRecordSkipped(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectHGet("feedsync:connections", "kalshi").SetVal("{not json")
	got, err := st.Get(context.Background(), "kalshi")
	if err != nil {
		t.Fatalf("Get raised on malformed record: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for malformed record", got)
	}

	// Unknown state enum values are treated as malformed too.
	mock.ExpectHGet("feedsync:connections", "kalshi").SetVal(`{"service_name":"kalshi","state":"LIMBO"}`)
	got, err = st.Get(context.Background(), "kalshi")
	if err != nil || got != nil {
		t.Errorf("Get = %+v, %v; want nil, nil for unknown state", got, err)
	}
}

func TestGetQueryErrorRaises(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectHGet("feedsync:connections", "kalshi").SetErr(errors.New("connection refused"))
	if _, err := st.Get(context.Background(), "kalshi"); err == nil {
		t.Error("Get swallowed a query error, want it surfaced")
	}
}

func TestPutSwallowsIOError(t *testing.T) {
	st, mock := newTestStore(t)
	record := testRecord("kalshi", model.StateReady, time.Now())

	mock.ExpectHSet("feedsync:connections", "kalshi", mustJSON(t, record)).SetErr(errors.New("broken pipe"))
	if ok := st.Put(context.Background(), record); ok {
		t.Error("Put returned true on I/O failure")
	}
}

func TestGetAllSkipsMalformed(t *testing.T) {
	st, mock := newTestStore(t)
	good := testRecord("kalshi", model.StateReady, time.Now())

	mock.ExpectHGetAll("feedsync:connections").SetVal(map[string]string{
		"kalshi":  string(mustJSON(t, good)),
		"corrupt": "{{{",
		"limbo":   `{"service_name":"limbo","state":"LIMBO"}`,
	})

	records, err := st.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("GetAll returned %d records, want 1 (corrupted entries skipped)", len(records))
	}
	if _, ok := records["kalshi"]; !ok {
		t.Error("healthy record missing from GetAll")
	}
}

func TestAppendEventTrimsRetentionWindow(t *testing.T) {
	st, mock := newTestStore(t)
	event := model.ReconnectionEvent{
		ServiceName: "kalshi",
		EventType:   model.EventReconnectStart,
		Timestamp:   time.Now().UnixMicro(),
		Details:     "read timeout",
	}
	data := mustJSON(t, event)
	cutoff := event.Timestamp - st.cfg.EventRetention.Microseconds()

	mock.ExpectZAdd("feedsync:events:kalshi", redis.Z{
		Score:  float64(event.Timestamp),
		Member: string(data),
	}).SetVal(1)
	mock.ExpectZRemRangeByScore("feedsync:events:kalshi", "-inf", strconv.FormatInt(cutoff, 10)).SetVal(0)
	mock.ExpectExpire("feedsync:events:kalshi", st.cfg.EventRetention).SetVal(true)

	if ok := st.AppendEvent(context.Background(), event); !ok {
		t.Fatal("AppendEvent returned false on success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendEventSwallowsIOError(t *testing.T) {
	st, mock := newTestStore(t)
	event := model.ReconnectionEvent{
		ServiceName: "kalshi",
		EventType:   model.EventReconnectFailure,
		Timestamp:   time.Now().UnixMicro(),
	}

	mock.ExpectZAdd("feedsync:events:kalshi", redis.Z{
		Score:  float64(event.Timestamp),
		Member: string(mustJSON(t, event)),
	}).SetErr(errors.New("readonly replica"))

	if ok := st.AppendEvent(context.Background(), event); ok {
		t.Error("AppendEvent returned true on I/O failure")
	}
}

func TestRecentEvents(t *testing.T) {
	st, mock := newTestStore(t)
	since := time.Now().Add(-time.Hour)

	ev1 := model.ReconnectionEvent{ServiceName: "kalshi", EventType: model.EventReconnectStart, Timestamp: since.Add(10 * time.Minute).UnixMicro()}
	ev2 := model.ReconnectionEvent{ServiceName: "kalshi", EventType: model.EventReconnectSuccess, Timestamp: since.Add(11 * time.Minute).UnixMicro()}

	mock.ExpectZRangeByScore("feedsync:events:kalshi", &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).SetVal([]string{
		string(mustJSON(t, ev1)),
		"not json", // malformed entries are skipped, not fatal
		string(mustJSON(t, ev2)),
	})

	events, err := st.RecentEvents(context.Background(), "kalshi", since)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != model.EventReconnectStart || events[1].EventType != model.EventReconnectSuccess {
		t.Errorf("events out of order: %+v", events)
	}
}

func TestPutAndGetMetrics(t *testing.T) {
	st, mock := newTestStore(t)
	m := model.ServiceMetrics{
		ServiceName:      "kalshi",
		MessagesReceived: 1000,
		Reconnections:    3,
	}
	data := mustJSON(t, m)

	mock.ExpectSet("feedsync:metrics:kalshi", data, st.cfg.MetricsTTL).SetVal("OK")
	if ok := st.PutMetrics(context.Background(), m); !ok {
		t.Fatal("PutMetrics returned false on success")
	}

	mock.ExpectGet("feedsync:metrics:kalshi").SetVal(string(data))
	got, err := st.GetMetrics(context.Background(), "kalshi")
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if got == nil || got.MessagesReceived != 1000 {
		t.Errorf("GetMetrics = %+v, want stored counters", got)
	}

	mock.ExpectGet("feedsync:metrics:ghost").RedisNil()
	got, err = st.GetMetrics(context.Background(), "ghost")
	if err != nil || got != nil {
		t.Errorf("GetMetrics(ghost) = %+v, %v; want nil, nil", got, err)
	}
}

func TestPruneStaleRemovesOldRecords(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	stale := testRecord("stale-svc", model.StateReady, now.Add(-2*time.Hour))
	fresh := testRecord("fresh-svc", model.StateReady, now.Add(-30*time.Minute))

	mock.ExpectHGetAll("feedsync:connections").SetVal(map[string]string{
		"stale-svc": string(mustJSON(t, stale)),
		"fresh-svc": string(mustJSON(t, fresh)),
	})
	mock.ExpectHDel("feedsync:connections", "stale-svc").SetVal(1)

	removed, err := st.PruneStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPruneStaleRemovesMalformedRecords(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	fresh := testRecord("fresh-svc", model.StateReady, now.Add(-time.Minute))

	mock.ExpectHGetAll("feedsync:connections").SetVal(map[string]string{
		"fresh-svc": string(mustJSON(t, fresh)),
		"corrupt":   "{{{",
	})
	mock.ExpectHDel("feedsync:connections", "corrupt").SetVal(1)

	removed, err := st.PruneStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want the undecodable record gone", removed)
	}
}

func TestPruneStaleNothingToDo(t *testing.T) {
	st, mock := newTestStore(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	fresh := testRecord("fresh-svc", model.StateReady, now.Add(-time.Minute))
	mock.ExpectHGetAll("feedsync:connections").SetVal(map[string]string{
		"fresh-svc": string(mustJSON(t, fresh)),
	})

	removed, err := st.PruneStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
