package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/tapedeck/internal/audio"
	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/session"
	"github.com/audiolibrelab/tapedeck/internal/storage"
)

// stubRecorder writes a placeholder file and acknowledges stops immediately
type stubRecorder struct {
	fs       afero.Fs
	sink     audio.EventSink
	startErr error
}

func (r *stubRecorder) SetEventSink(sink audio.EventSink) { r.sink = sink }

func (r *stubRecorder) StartRecording(ctx context.Context, destination string) error {
	if r.startErr != nil {
		return r.startErr
	}
	return afero.WriteFile(r.fs, destination, []byte("audio"), 0644)
}

func (r *stubRecorder) StopRecording() error {
	go r.sink.Deliver(audio.Stopped())
	return nil
}

type testEnv struct {
	fs   afero.Fs
	rec  *stubRecorder
	ctrl *session.Controller
	srv  *Server
	http *httptest.Server
}

func newTestEnv(t *testing.T, fsys afero.Fs) *testEnv {
	t.Helper()
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	store := storage.New(fsys, "/rec")
	rec := &stubRecorder{fs: fsys}
	ctrl := session.NewController(session.Options{
		Store:            store,
		Recorder:         rec,
		Extension:        "aac",
		OperationTimeout: time.Second,
		SubscriberBuffer: 16,
	})
	rec.SetEventSink(ctrl)

	srv := New(ctrl, library.New(store, "aac"), "0")
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		srv.closeClients()
		ts.Close()
		ctrl.Close()
	})

	return &testEnv{fs: fsys, rec: rec, ctrl: ctrl, srv: srv, http: ts}
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(e.http.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (e *testEnv) status(t *testing.T) StatusResponse {
	t.Helper()
	resp, err := http.Get(e.http.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}

func (e *testEnv) waitForState(t *testing.T, state session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.status(t).Session.State == state
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordStopRename(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.post(t, "/start", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "RECORDING", env.status(t).Status)

	code, _ = env.post(t, "/stop", nil)
	require.Equal(t, http.StatusOK, code)
	env.waitForState(t, session.StateStopped)

	code, body = env.post(t, "/rename", url.Values{"title": {"Kick"}, "tags": {"drum,punchy"}})
	require.Equal(t, http.StatusOK, code, body)

	status := env.status(t)
	assert.Equal(t, "IDLE", status.Status)
	assert.Equal(t, "Kick--drum_punchy.aac", status.Session.Filename)

	ok, err := afero.Exists(env.fs, "/rec/Kick--drum_punchy.aac")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRename_JSONBody(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, "/start", nil)
	env.post(t, "/stop", nil)
	env.waitForState(t, session.StateStopped)

	resp, err := http.Post(env.http.URL+"/rename", "application/json",
		strings.NewReader(`{"title":"My Take","tags":"drum,bass"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "MyTake--drum_bass.aac", env.status(t).Session.Filename)
}

func TestRename_Conflict(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, afero.WriteFile(env.fs, "/rec/Kick--drum.aac", []byte("existing"), 0644))

	env.post(t, "/start", nil)
	env.post(t, "/stop", nil)
	env.waitForState(t, session.StateStopped)

	code, body := env.post(t, "/rename", url.Values{"title": {"Kick"}, "tags": {"drum"}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "failed to rename recording")

	status := env.status(t)
	assert.Equal(t, "ERROR", status.Status)
	assert.True(t, status.Session.Recoverable)
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.post(t, "/stop", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body := env.post(t, "/rename", url.Values{"title": {"Kick"}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, session.ErrNoActiveSession.Error(), body["error"])

	env.post(t, "/start", nil)
	code, _ = env.post(t, "/start", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestStart_DirectoryFailure(t *testing.T) {
	env := newTestEnv(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))

	code, body := env.post(t, "/start", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "IDLE", env.status(t).Status)
}

func TestStart_RecorderFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rec.startErr = errors.New("no such device")

	code, body := env.post(t, "/start", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "no such device")
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, "/start", nil)
	env.post(t, "/stop", nil)
	env.waitForState(t, session.StateStopped)

	code, _ := env.post(t, "/reset", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "IDLE", env.status(t).Status)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	code, _ := env.post(t, "/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/preview?" + url.Values{"title": {"My Take"}, "tags": {"drum, bass"}}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	var preview PreviewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&preview))
	assert.Equal(t, "MyTake--drum_ bass.aac", preview.Filename)
	assert.Equal(t, []string{"drum", " bass"}, preview.Tags)
}

func TestRecordings(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, afero.WriteFile(env.fs, "/rec/Kick--drum.aac", []byte("audio"), 0644))

	resp, err := http.Get(env.http.URL + "/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success    bool                `json:"success"`
		Recordings []library.Recording `json:"recordings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Recordings, 1)
	assert.Equal(t, "Kick", body.Recordings[0].Title)
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Ready to record", statusMessage(session.Snapshot{State: session.StateIdle}))
	assert.Equal(t, "Stopping...", statusMessage(session.Snapshot{State: session.StateRecording, StopRequested: true}))
	assert.Contains(t, statusMessage(session.Snapshot{State: session.StateError, Recoverable: true, Error: "taken"}), "try another name")
}

func TestWebSocket_StreamsUpdates(t *testing.T) {
	env := newTestEnv(t, nil)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	next := func() wsMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	// waits for a session message in the given state, skipping others
	waitSession := func(state session.State) {
		t.Helper()
		for {
			msg := next()
			if msg.Type == "session" && msg.Session.State == state {
				return
			}
		}
	}

	waitSession(session.StateIdle)

	env.post(t, "/start", nil)
	waitSession(session.StateRecording)

	env.srv.BroadcastRecordings([]library.Recording{{Name: "Kick--drum.aac", Title: "Kick"}})
	for {
		msg := next()
		if msg.Type == "recordings" && len(msg.Recordings) == 1 {
			assert.Equal(t, "Kick--drum.aac", msg.Recordings[0].Name)
			break
		}
	}
}
