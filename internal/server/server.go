package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/tapedeck/internal/library"
	"github.com/audiolibrelab/tapedeck/internal/naming"
	"github.com/audiolibrelab/tapedeck/internal/session"
)

const (
	writeWait      = 5 * time.Second
	clientSendSize = 8
	shutdownWait   = 5 * time.Second
)

// SessionControl is the part of the session controller the server drives
type SessionControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Rename(ctx context.Context, title, tagString string) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Subscribe() (<-chan session.Snapshot, func())
	Extension() string
}

// Server exposes the recording session over HTTP and a websocket feed
type Server struct {
	session  SessionControl
	library  *library.Library
	port     string
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Session session.Snapshot `json:"session"`
}

// PreviewResponse is the filename a rename would produce
type PreviewResponse struct {
	Filename  string   `json:"filename"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Extension string   `json:"extension"`
}

// wsMessage is pushed to websocket clients
type wsMessage struct {
	Type       string              `json:"type"` // "session" or "recordings"
	Session    *session.Snapshot   `json:"session,omitempty"`
	Recordings []library.Recording `json:"recordings,omitempty"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan wsMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// New creates a web server instance
func New(ctrl SessionControl, lib *library.Library, port string) *Server {
	return &Server{
		session: ctrl,
		library: lib,
		port:    port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Handler returns the routes served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/rename", s.handleRename)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/preview", s.handlePreview)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.closeClients()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	localIP := getLocalIP()
	slog.Info("Starting TapeDeck web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("TapeDeck web server stopped")
	return nil
}

// BroadcastRecordings pushes a library listing to every websocket client
func (s *Server) BroadcastRecordings(recordings []library.Recording) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	msg := wsMessage{Type: "recordings", Recordings: recordings}
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
			slog.Debug("Websocket client lagging, dropped library update", "remote", client.conn.RemoteAddr())
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.session.Start(r.Context()); err != nil {
		s.sendSessionError(w, err, "operation", "start")
		return
	}
	s.sendSessionResponse(w, r.Context(), "Recording started")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.session.Stop(r.Context()); err != nil {
		s.sendSessionError(w, err, "operation", "stop")
		return
	}
	s.sendSessionResponse(w, r.Context(), "Stop requested")
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	title, tags, err := parseRenameRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err), "operation", "rename")
		return
	}

	if err := s.session.Rename(r.Context(), title, tags); err != nil {
		s.sendSessionError(w, err, "operation", "rename", "title", title, "tags", tags)
		return
	}
	s.sendSessionResponse(w, r.Context(), "Recording renamed")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.session.Reset(r.Context()); err != nil {
		s.sendSessionError(w, err, "operation", "reset")
		return
	}
	s.sendSessionResponse(w, r.Context(), "Session reset")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.sendSessionError(w, err, "operation", "status")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  string(snap.State),
		Message: statusMessage(snap),
		Session: snap,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	target := naming.New(q.Get("title"), q.Get("tags"), s.session.Extension())

	writeJSON(w, http.StatusOK, PreviewResponse{
		Filename:  target.Filename(),
		Title:     target.Title,
		Tags:      target.Tags,
		Extension: target.Extension,
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.library.List()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err), "operation", "recordings")
		return
	}
	if recordings == nil {
		recordings = []library.Recording{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"directory":  s.library.Dir(),
		"recordings": recordings,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, clientSendSize),
		done: make(chan struct{}),
	}
	s.addClient(client)
	defer s.removeClient(client)

	updates, cancel := s.session.Subscribe()
	defer cancel()

	slog.Info("Websocket client connected", "remote", r.RemoteAddr)

	go readPump(client)

	if recordings, err := s.library.List(); err == nil {
		client.send <- wsMessage{Type: "recordings", Recordings: recordings}
	}

	for {
		var msg wsMessage
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			msg = wsMessage{Type: "session", Session: &snap}
		case msg = <-client.send:
		case <-client.done:
			slog.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("Websocket write failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

// readPump discards client input and notices the connection closing
func readPump(client *wsClient) {
	defer client.close()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.close()
	}
}

func (s *Server) sendSessionResponse(w http.ResponseWriter, ctx context.Context, message string) {
	snap, err := s.session.Snapshot(ctx)
	if err != nil {
		s.sendSessionError(w, err, "operation", "snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
		"session": snap,
	})
}

// sendSessionError maps controller errors onto HTTP status codes
func (s *Server) sendSessionError(w http.ResponseWriter, err error, logContext ...interface{}) {
	s.sendErrorResponse(w, statusCode(err), err.Error(), logContext...)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrRenameConflict),
		errors.Is(err, session.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrRecorderStart):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// parseRenameRequest accepts a JSON body or form values
func parseRenameRequest(r *http.Request) (string, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Title string `json:"title"`
			Tags  string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", "", fmt.Errorf("malformed JSON: %w", err)
		}
		return body.Title, body.Tags, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", "", fmt.Errorf("malformed form: %w", err)
	}
	return r.FormValue("title"), r.FormValue("tags"), nil
}

func statusMessage(snap session.Snapshot) string {
	switch snap.State {
	case session.StateIdle:
		if snap.Filename != "" {
			return fmt.Sprintf("Ready - last saved %s", snap.Filename)
		}
		return "Ready to record"
	case session.StateRecording:
		if snap.StopRequested {
			return "Stopping..."
		}
		if snap.StartedAt != nil {
			return fmt.Sprintf("Recording in progress - %s", time.Since(*snap.StartedAt).Round(time.Second))
		}
		return "Recording in progress"
	case session.StateStopped:
		return "Recording stopped - waiting for a name"
	case session.StateError:
		if snap.Recoverable {
			return fmt.Sprintf("Rename failed, try another name: %s", snap.Error)
		}
		return fmt.Sprintf("Recording failed: %s", snap.Error)
	default:
		return "Unknown status"
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>TapeDeck</title>
</head>
<body>
    <h1>TapeDeck</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /start - Start recording</li>
        <li>POST /stop - Stop recording</li>
        <li>POST /rename - Name the stopped recording (title, tags)</li>
        <li>POST /reset - Abandon the current recording</li>
        <li>GET /status - Get status</li>
        <li>GET /preview?title=&amp;tags= - Preview a filename</li>
        <li>GET /recordings - List recordings</li>
        <li>GET /ws - Live session and library updates</li>
    </ul>
</body>
</html>`
