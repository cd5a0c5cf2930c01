package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/bus"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/infra/config"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/registry"
	"github.com/downlee/downlee/internal/store"
)

func testApp(t *testing.T) *app.Context {
	t.Helper()
	log := logger.NewWriter(io.Discard, logger.LevelError)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Download: config.DownloadConfig{Dir: t.TempDir()},
		Chat:     config.ChatConfig{MaxRetries: 2, RetryDelaySec: 1},
	}
	// Zero out the retry pause so exhaustion tests finish quickly.
	cfg.Chat.RetryDelaySec = 0
	return app.NewContext(cfg, log, st)
}

// fakeMessage scripts the provider side of one download.
type fakeMessage struct {
	mu       sync.Mutex
	id       int64
	filename string
	mime     string
	download func(ctx context.Context, path string, progress func(current, total int64)) error
	replies  []string
	edits    []string
}

func (m *fakeMessage) ID() int64        { return m.id }
func (m *fakeMessage) Filename() string { return m.filename }
func (m *fakeMessage) MIMEType() string { return m.mime }

func (m *fakeMessage) Download(ctx context.Context, path string, progress func(current, total int64)) error {
	return m.download(ctx, path, progress)
}

func (m *fakeMessage) Reply(ctx context.Context, text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return 99, nil
}

func (m *fakeMessage) EditReply(ctx context.Context, replyID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *fakeMessage) lastEdit() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return ""
	}
	return m.edits[len(m.edits)-1]
}

func waitForStatus(t *testing.T, a *app.Context, externalID string, want domain.Status) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		j, err := a.Store.JobByExternalID(externalID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestWorkerHappyPath(t *testing.T) {
	a := testApp(t)
	_, events := a.Bus.Subscribe()

	msg := &fakeMessage{id: 42, filename: "clip.mp4", mime: "video/mp4"}
	msg.download = func(ctx context.Context, path string, progress func(current, total int64)) error {
		progress(512, 1024)
		progress(1024, 1024)
		return nil
	}

	_, err := a.Store.CreateJob(&domain.Job{ExternalID: "42", File: "clip.mp4"})
	require.NoError(t, err)

	w := NewWorker(a, msg, "42", filepath.Join(t.TempDir(), "clip.mp4"))
	require.NoError(t, a.Registry.Add("42", registry.Handle{Kind: domain.KindChat, Cancel: func() {}}))
	go w.Run(context.Background())

	job := waitForStatus(t, a, "42", domain.StatusDone)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 0.0, job.Speed)
	require.NotNil(t, job.PendingTime)
	assert.Equal(t, 0.0, *job.PendingTime)

	require.Eventually(t, func() bool { return !a.Registry.Contains("42") },
		time.Second, 10*time.Millisecond)

	// The status event must arrive after the terminal write, carrying done.
	sawDone := false
	for !sawDone {
		select {
		case ev := <-events:
			if ev.Topic == bus.TopicStatus {
				payload := ev.Payload.(bus.StatusEvent)
				assert.Equal(t, "42", payload.ExternalID)
				assert.Equal(t, "done", payload.Status)
				sawDone = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no status event")
		}
	}

	// The terminal store write precedes the side-channel edit.
	require.Eventually(t, func() bool { return msg.lastEdit() == "Status: Downloaded" },
		time.Second, 10*time.Millisecond)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	a := testApp(t)

	attempts := 0
	msg := &fakeMessage{id: 7, filename: "bad.bin"}
	msg.download = func(ctx context.Context, path string, progress func(current, total int64)) error {
		attempts++
		return errors.New("connection reset")
	}

	_, err := a.Store.CreateJob(&domain.Job{ExternalID: "7", File: "bad.bin"})
	require.NoError(t, err)

	w := NewWorker(a, msg, "7", filepath.Join(t.TempDir(), "bad.bin"))
	go w.Run(context.Background())

	job := waitForStatus(t, a, "7", domain.StatusFailed)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, job.Error, "Attempt 2/2 failed")
	require.Eventually(t, func() bool { return msg.lastEdit() == "Status: Failed" },
		time.Second, 10*time.Millisecond)
}

func TestWorkerStopWritesStopped(t *testing.T) {
	a := testApp(t)

	started := make(chan struct{})
	msg := &fakeMessage{id: 9, filename: "big.mkv"}
	msg.download = func(ctx context.Context, path string, progress func(current, total int64)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := a.Store.CreateJob(&domain.Job{ExternalID: "9", File: "big.mkv"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(a, msg, "9", filepath.Join(t.TempDir(), "big.mkv"))
	require.NoError(t, a.Registry.Add("9", registry.Handle{Kind: domain.KindChat, Cancel: cancel}))
	go w.Run(ctx)

	<-started
	assert.True(t, a.Registry.Cancel("9"))

	waitForStatus(t, a, "9", domain.StatusStopped)
	require.Eventually(t, func() bool { return msg.lastEdit() == "Status: Stopped" },
		time.Second, 10*time.Millisecond)
}

func TestWorkerProgressWrites(t *testing.T) {
	a := testApp(t)

	release := make(chan struct{})
	msg := &fakeMessage{id: 11, filename: "file.mp4"}
	msg.download = func(ctx context.Context, path string, progress func(current, total int64)) error {
		progress(250, 1000)
		close(release)
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := a.Store.CreateJob(&domain.Job{ExternalID: "11", File: "file.mp4"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(a, msg, "11", filepath.Join(t.TempDir(), "file.mp4"))
	go w.Run(ctx)

	<-release
	require.Eventually(t, func() bool {
		j, err := a.Store.JobByExternalID("11")
		return err == nil && j.DownloadedBytes == 250
	}, 2*time.Second, 10*time.Millisecond)

	j, err := a.Store.JobByExternalID("11")
	require.NoError(t, err)
	assert.Equal(t, 25.0, j.Progress)
	assert.Equal(t, int64(1000), j.TotalBytes)
}
