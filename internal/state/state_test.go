package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grocky/ripeness-detector/internal/ripeness"
)

type memStore struct {
	saved []CountState
	err   error
}

func (m *memStore) Save(c CountState) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, c)
	return nil
}

func TestAggregator(t *testing.T) {
	store := &memStore{}
	agg := NewAggregator(store)

	for _, l := range []ripeness.Label{ripeness.Ripe, ripeness.Ripe, ripeness.Unripe, ripeness.Overripe, ripeness.Ripe} {
		agg.Record(l)
	}
	want := CountState{Ripe: 3, Unripe: 1, Overripe: 1}
	assert.Equal(t, want, agg.Snapshot())
	assert.Equal(t, 5, agg.Snapshot().Total())
	assert.Equal(t, 3, want.Get(ripeness.Ripe))

	snap, err := agg.Flush()
	require.NoError(t, err)
	assert.Equal(t, want, snap)
	assert.Equal(t, []CountState{want}, store.saved)

	agg.Reset()
	assert.Equal(t, CountState{}, agg.Snapshot())

	store.err = os.ErrPermission
	_, err = agg.Flush()
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	agg := NewAggregator(&memStore{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record(ripeness.Overripe)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, agg.Snapshot().Overripe)
}

func TestPercentages(t *testing.T) {
	assert.Equal(t, Shares{}, CountState{}.Percentages())

	s := CountState{Ripe: 2, Unripe: 1, Overripe: 1}.Percentages()
	assert.InDelta(t, 50, s.Ripe, 1e-9)
	assert.InDelta(t, 25, s.Unripe, 1e-9)
	assert.InDelta(t, 25, s.Overripe, 1e-9)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "counts.json")
	store := NewFileStore(path)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	want := CountState{Ripe: 4, Unripe: 2, Overripe: 7}
	require.NoError(t, store.Save(want))

	got, ok, err := store.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	// the file carries exactly the three count fields
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 3)
	assert.Contains(t, raw, "ripe")
	assert.Contains(t, raw, "unripe")
	assert.Contains(t, raw, "overripe")

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadSnapshotIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ripe":1,"unripe":2,"overripe":3,"updated":"now"}`), 0644))

	got, ok, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CountState{Ripe: 1, Unripe: 2, Overripe: 3}, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"ripe":`), 0644))
	_, _, err = ReadSnapshot(path)
	assert.Error(t, err)
}

func TestFileStoreConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(CountState{}))

	done := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for {
			select {
			case <-done:
				return
			default:
			}
			c, ok, err := ReadSnapshot(path)
			if err != nil {
				errc <- err
				return
			}
			// writes keep all three counters equal
			if ok && (c.Ripe != c.Unripe || c.Unripe != c.Overripe) {
				errc <- assert.AnError
				return
			}
		}
	}()

	for i := 1; i <= 200; i++ {
		require.NoError(t, store.Save(CountState{Ripe: i, Unripe: i, Overripe: i}))
	}
	close(done)
	assert.NoError(t, <-errc)
}

func TestSaveFailsOnUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// a regular file where the parent directory should be
	store := NewFileStore(filepath.Join(blocker, "counts.json"))
	assert.Error(t, store.Save(CountState{Ripe: 1}))
}

func TestWatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "counts.json")
	store := NewFileStore(path)

	type seen struct {
		c  CountState
		ok bool
	}
	updates := make(chan seen, 16)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, path, logger, func(c CountState, ok bool) {
			updates <- seen{c, ok}
		})
	}()

	next := func() seen {
		select {
		case s := <-updates:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for snapshot")
			return seen{}
		}
	}

	assert.Equal(t, seen{CountState{}, false}, next())

	require.NoError(t, store.Save(CountState{Ripe: 1}))
	assert.Equal(t, seen{CountState{Ripe: 1}, true}, next())

	require.NoError(t, store.Save(CountState{Ripe: 1, Overripe: 2}))
	assert.Equal(t, seen{CountState{Ripe: 1, Overripe: 2}, true}, next())

	cancel()
	require.NoError(t, <-errc)
}

func runNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSMirror(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ns := runNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("ripeness.counts", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	mirror, err := ConnectNATS(ns.ClientURL(), "ripeness.counts", logger)
	require.NoError(t, err)
	defer mirror.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	want := Update{RunID: "run-1", Frame: 3, Counts: CountState{Ripe: 2}, At: clk.Now()}
	require.NoError(t, mirror.Publish(want))

	select {
	case msg := <-msgs:
		var got Update
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.Frame, got.Frame)
		assert.Equal(t, want.Counts, got.Counts)
		assert.True(t, want.At.Equal(got.At))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConnectNATSFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := ConnectNATS("nats://127.0.0.1:1", "ripeness.counts", logger)
	assert.Error(t, err)
}
