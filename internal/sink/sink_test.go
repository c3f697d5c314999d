package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kb-tracker/internal/event"
	"kb-tracker/internal/recorder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved chan recorder.GameRecord
	err   error
}

func (f *fakeStore) SaveGame(_ context.Context, rec *recorder.GameRecord) error {
	f.saved <- *rec
	return f.err
}

type fakeArchive struct {
	written chan string
	err     error
}

func (f *fakeArchive) Write(rec *recorder.GameRecord) (string, error) {
	f.written <- rec.GameID
	return "archive/" + rec.GameID, f.err
}

func record(id string) recorder.GameRecord {
	winner := "Alice"
	return recorder.GameRecord{
		GameID:  id,
		Format:  "premier",
		Players: [2]recorder.PlayerInfo{{Key: "a", Name: "Alice"}, {Key: "b", Name: "Bob"}},
		Winner:  &winner,
		Rounds:  4,
		CardEvents: []event.CardEvent{
			{GameID: id, RoundNumber: 1, CardID: "SOR_001", Metric: event.Played, Count: 1},
		},
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func startSink(t *testing.T, opts Options) *Sink {
	t.Helper()
	s := New(opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSink_DeliversToStoreAndArchive(t *testing.T) {
	store := &fakeStore{saved: make(chan recorder.GameRecord, 1)}
	archive := &fakeArchive{written: make(chan string, 1)}
	s := startSink(t, Options{Store: store, Archive: archive})

	s.Publish(record("g1"))

	saved := receive(t, store.saved)
	assert.Equal(t, "g1", saved.GameID)
	assert.Equal(t, "premier", saved.Format)
	require.NotNil(t, saved.Winner)
	assert.Equal(t, "Alice", *saved.Winner)
	require.Len(t, saved.CardEvents, 1)
	assert.Equal(t, event.Played, saved.CardEvents[0].Metric)

	assert.Equal(t, "g1", receive(t, archive.written))
}

func TestSink_FormatOverride(t *testing.T) {
	store := &fakeStore{saved: make(chan recorder.GameRecord, 1)}
	s := startSink(t, Options{Store: store, FormatOverride: "draft"})

	s.Publish(record("g1"))
	assert.Equal(t, "draft", receive(t, store.saved).Format)
}

func TestSink_FailuresDoNotStopDelivery(t *testing.T) {
	store := &fakeStore{saved: make(chan recorder.GameRecord, 2), err: errors.New("db down")}
	archive := &fakeArchive{written: make(chan string, 2), err: errors.New("disk full")}
	s := startSink(t, Options{Store: store, Archive: archive})

	s.Publish(record("g1"))
	s.Publish(record("g2"))

	// 不同消息之间不保证顺序
	saved := []string{receive(t, store.saved).GameID, receive(t, store.saved).GameID}
	archived := []string{receive(t, archive.written), receive(t, archive.written)}
	assert.ElementsMatch(t, []string{"g1", "g2"}, saved)
	assert.ElementsMatch(t, []string{"g1", "g2"}, archived)
}

func TestSink_PublishAsCompletionCallback(t *testing.T) {
	store := &fakeStore{saved: make(chan recorder.GameRecord, 1)}
	s := startSink(t, Options{Store: store})

	var cb recorder.CompletionFunc = s.Publish
	cb(record("g9"))
	assert.Equal(t, "g9", receive(t, store.saved).GameID)
}

func TestSink_DeliverSynchronously(t *testing.T) {
	store := &fakeStore{saved: make(chan recorder.GameRecord, 1), err: errors.New("db down")}
	archive := &fakeArchive{written: make(chan string, 1)}
	s := New(Options{Store: store, Archive: archive, FormatOverride: "draft"})
	defer func() { _ = s.Close() }()

	rec := record("g9")
	err := s.Deliver(context.Background(), &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, "draft", rec.Format)
	assert.Equal(t, "g9", (<-store.saved).GameID)
	assert.Equal(t, "g9", <-archive.written)
}

type slowStore struct {
	mu    sync.Mutex
	saved []string
}

func (s *slowStore) SaveGame(_ context.Context, rec *recorder.GameRecord) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec.GameID)
	return nil
}

func (s *slowStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func TestSink_CloseDrainsQueuedRecords(t *testing.T) {
	store := &slowStore{}
	s := New(Options{Store: store, Timeout: 5 * time.Second})
	require.NoError(t, s.Start(context.Background()))

	ids := []string{"g1", "g2", "g3", "g4", "g5"}
	for _, id := range ids {
		s.Publish(record(id))
	}
	require.NoError(t, s.Close())
	assert.ElementsMatch(t, ids, store.ids())

	// 关闭后发布的记录直接丢弃
	s.Publish(record("late"))
	assert.NotContains(t, store.ids(), "late")
}
