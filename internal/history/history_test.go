package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entryAt(start time.Time) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Interface:   "eth0",
		OutputPath:  "/tmp/eth0.pcap",
		StartTime:   start,
		EndTime:     start.Add(30 * time.Second),
		State:       capture.StateStopped.String(),
		PacketCount: 12,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openStore(t)
	e := entryAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(e))
	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for _, offset := range []int{2, 0, 3, 1} {
		e := entryAt(base.Add(time.Duration(offset) * time.Minute))
		e.OutputPath = fmt.Sprintf("/tmp/%d.pcap", offset)
		require.NoError(t, s.Record(e))
		ids = append(ids, e.ID)
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, want := range []string{"/tmp/3.pcap", "/tmp/2.pcap", "/tmp/1.pcap", "/tmp/0.pcap"} {
		assert.Equal(t, want, all[i].OutputPath)
	}

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Equal(t, all[:2], two)
}

func TestStore_RecordReplaces(t *testing.T) {
	s := openStore(t)
	e := entryAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Record(e))

	e.StartTime = e.StartTime.Add(time.Hour)
	e.PacketCount = 99
	require.NoError(t, s.Record(e))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(99), all[0].PacketCount)
}

func TestStore_RejectsMissingID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Record(Entry{}))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	e := entryAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Record(e))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestFromResult(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := capture.CaptureResult{
		SessionID:   "abc",
		State:       capture.StateFailed,
		Interface:   "eth0",
		PCAPFile:    "out.pcap",
		PacketCount: 4,
		StartTime:   start,
		EndTime:     start.Add(time.Second),
		Trigger:     "start",
		Error:       fmt.Errorf("%w: no driver", capture.ErrAttachFailure),
	}

	e := FromResult(r)
	assert.Equal(t, "abc", e.ID)
	assert.Equal(t, "failed", e.State)
	assert.True(t, e.DriverError)
	assert.Contains(t, e.Error, "no driver")
	assert.Equal(t, int64(4), e.PacketCount)

	r.Error = nil
	r.State = capture.StateStopped
	e = FromResult(r)
	assert.False(t, e.DriverError)
	assert.Empty(t, e.Error)
}
