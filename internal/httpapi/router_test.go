package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunehq/skillrunner/internal/config"
	"github.com/lunehq/skillrunner/internal/engine"
	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

func newTestServer(t *testing.T, st *store.InMemoryStore) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "skill.sh")
	require.NoError(t, os.WriteFile(scriptPath,
		[]byte("#!/bin/sh\nprintf '{\"document_id\":\"doc-1\",\"reply_text\":\"ok\"}' > \"$RESULT_FILE\"\n"), 0o755))
	runner := config.Runner{
		Program:   "/bin/sh",
		Args:      []string{scriptPath},
		Timeout:   time.Minute,
		ResultDir: filepath.Join(dir, "results"),
	}

	log := logging.NewNop()
	streamer := stream.NewStreamer()
	sup := engine.NewSupervisor(st, log, streamer, dir, 0)
	eng := engine.New(st, log, sup, engine.NewRunIDSource(), nil, streamer)
	eng.Register(engine.SongWish{}, runner)
	eng.Register(engine.ArticleRequest{}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)

	srv := httptest.NewServer(NewRouter(eng, st, streamer, log))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, store.NewInMemoryStore())
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	st := store.NewInMemoryStore()
	st.PutJob(&store.Job{ID: "j1", Kind: engine.KindSongWish, Status: store.JobStatusApproved,
		Params: map[string]string{"title": "Pyramid Song"}})
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/jobs/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job store.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, "Pyramid Song", job.Params["title"])

	resp, err = http.Get(srv.URL + "/jobs/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnqueueUnknownJob(t *testing.T) {
	srv := newTestServer(t, store.NewInMemoryStore())
	resp, err := http.Post(srv.URL+"/jobs/ghost/enqueue", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnqueueRunsJob(t *testing.T) {
	st := store.NewInMemoryStore()
	st.PutJob(&store.Job{ID: "j1", Kind: engine.KindSongWish, Status: store.JobStatusApproved,
		Params: map[string]string{"title": "Weird Fishes"}})
	srv := newTestServer(t, st)

	resp, err := http.Post(srv.URL+"/jobs/j1/enqueue", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		job, err := st.GetJob(context.Background(), "j1")
		return err == nil && job.Status == store.JobStatusDone
	}, 15*time.Second, 50*time.Millisecond)

	job, err := st.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", job.ResultRefID)
	assert.Equal(t, "ok", job.ReplyText)
}
