package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/tapedeck/internal/audio"
	"github.com/audiolibrelab/tapedeck/internal/naming"
	"github.com/audiolibrelab/tapedeck/internal/storage"
)

// State is the lifecycle state of the current session
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateStopped   State = "STOPPED"
	StateError     State = "ERROR"
)

const (
	inboxSize             = 64
	tempIdentityAttempts  = 3
	defaultOperationLimit = 10 * time.Second
)

// Snapshot is the published view of the controller
type Snapshot struct {
	State         State      `json:"state"`
	Filename      string     `json:"filename,omitempty"`
	StopRequested bool       `json:"stop_requested"`
	Recoverable   bool       `json:"recoverable"` // rename may be retried
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

// Session is one recording attempt, from Start to its final name or abandonment
type Session struct {
	ID        string
	TempName  string
	Extension string
	StartedAt time.Time

	// set once renamed
	Name  string
	Title string
	Tags  []string
}

// Options configures a Controller
type Options struct {
	Store    *storage.Store
	Recorder audio.Recorder

	// Extension is appended to temporary and final names
	Extension string

	// OperationTimeout bounds recorder start/stop and filesystem operations
	OperationTimeout time.Duration

	// SubscriberBuffer is the channel capacity handed to each subscriber
	SubscriberBuffer int

	// NewID generates temporary identities. Defaults to random UUIDs.
	NewID func() string
}

// Controller owns the recording session. All state lives on one goroutine
// that drains a FIFO inbox of caller operations and recorder events.
type Controller struct {
	store     *storage.Store
	recorder  audio.Recorder
	extension string
	timeout   time.Duration
	newID     func() string

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	broadcaster *broadcaster

	// owned by the run goroutine
	state         State
	session       *Session
	last          *Session // most recently named session
	filename      string
	stopRequested bool
	renameRetry   bool
	lastErr       error
}

// NewController creates a controller and starts its goroutine.
// The caller registers it with the recorder: recorder.SetEventSink(controller).
func NewController(opts Options) *Controller {
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationLimit
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	c := &Controller{
		store:       opts.Store,
		recorder:    opts.Recorder,
		extension:   opts.Extension,
		timeout:     timeout,
		newID:       newID,
		inbox:       make(chan func(), inboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		broadcaster: newBroadcaster(opts.SubscriberBuffer),
		state:       StateIdle,
	}

	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			if c.state == StateRecording {
				slog.Warn("Session controller closed while recording", "file", c.filename)
			}
			return
		}
	}
}

// Close stops the controller goroutine and closes all subscriptions
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.broadcaster.close()
	})
}

// submit enqueues fn on the controller goroutine
func (c *Controller) submit(ctx context.Context, fn func()) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}

	select {
	case c.inbox <- fn:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the controller goroutine and waits for its result
func (c *Controller) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := c.submit(ctx, func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// bounded runs fn with the operation timeout. If the timeout fires first,
// late is called with fn's eventual result from another goroutine.
func (c *Controller) bounded(ctx context.Context, fn func(ctx context.Context) error, late func(error)) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		go func() {
			err := <-result
			if late != nil {
				late(err)
			}
		}()
		return ctx.Err()
	}
}

// Deliver receives recorder events and marshals them onto the controller goroutine
func (c *Controller) Deliver(ev audio.Event) {
	if err := c.submit(context.Background(), func() { c.handleEvent(ev) }); err != nil {
		slog.Warn("Recorder event dropped", "event", ev.Kind, "error", err)
	}
}

// Start begins a new session. Legal only from IDLE.
func (c *Controller) Start(ctx context.Context) error {
	return c.call(ctx, func() error { return c.start(ctx) })
}

// Stop asks the recorder to halt. The state changes to STOPPED when the
// recorder acknowledges; until then the snapshot reports StopRequested.
func (c *Controller) Stop(ctx context.Context) error {
	return c.call(ctx, func() error { return c.stop(ctx) })
}

// Rename moves the stopped recording to its final name built from title and tags
func (c *Controller) Rename(ctx context.Context, title, tagString string) error {
	return c.call(ctx, func() error { return c.rename(ctx, title, tagString) })
}

// Reset abandons a stopped or failed session, leaving its file where it is
func (c *Controller) Reset(ctx context.Context) error {
	return c.call(ctx, func() error { return c.reset() })
}

// Snapshot returns the current published state
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

// Session returns a copy of the active session. When idle it returns the
// last session that was named, or nil.
func (c *Controller) Session(ctx context.Context) (*Session, error) {
	var sess *Session
	err := c.call(ctx, func() error {
		src := c.session
		if src == nil {
			src = c.last
		}
		if src != nil {
			cp := *src
			cp.Tags = append([]string(nil), src.Tags...)
			sess = &cp
		}
		return nil
	})
	return sess, err
}

// Subscribe returns a channel that receives the current snapshot and then
// every change. cancel releases the subscription.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	var (
		ch     <-chan Snapshot
		cancel func()
	)
	err := c.call(context.Background(), func() error {
		ch, cancel = c.broadcaster.subscribe(c.snapshot())
		return nil
	})
	if err != nil {
		closed := make(chan Snapshot)
		close(closed)
		return closed, func() {}
	}
	return ch, cancel
}

// Path returns the absolute path of a file in the storage directory
func (c *Controller) Path(name string) string {
	return c.store.Path(name)
}

// Extension returns the fixed extension used for recordings
func (c *Controller) Extension() string {
	return c.extension
}

func (c *Controller) start(ctx context.Context) error {
	if c.state != StateIdle {
		return invalidState("start", c.state)
	}

	err := c.bounded(ctx, func(context.Context) error { return c.store.EnsureDir() }, nil)
	if err != nil {
		slog.Error("Failed to prepare storage directory", "dir", c.store.Dir(), "error", err)
		return fmt.Errorf("%w: %w", ErrDirectoryCreation, err)
	}

	id, tempName, err := c.newTempIdentity()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecorderStart, err)
	}
	path := c.store.Path(tempName)

	err = c.bounded(ctx, func(ctx context.Context) error {
		return c.recorder.StartRecording(ctx, path)
	}, func(err error) {
		if err != nil {
			return
		}
		slog.Warn("Recorder started after timeout, stopping it", "file", path)
		if err := c.recorder.StopRecording(); err != nil {
			slog.Error("Failed to stop late recorder", "error", err)
		}
	})
	if err != nil {
		slog.Error("Recorder failed to start", "file", path, "error", err)
		return fmt.Errorf("%w: %w", ErrRecorderStart, err)
	}

	c.session = &Session{
		ID:        id,
		TempName:  tempName,
		Extension: c.extension,
		StartedAt: time.Now(),
	}
	c.last = nil
	c.state = StateRecording
	c.filename = tempName
	c.stopRequested = false
	c.renameRetry = false
	c.lastErr = nil
	c.publish()

	slog.Info("Recording started", "file", path)
	return nil
}

// newTempIdentity picks a token whose file does not exist yet
func (c *Controller) newTempIdentity() (string, string, error) {
	for attempt := 1; attempt <= tempIdentityAttempts; attempt++ {
		id := c.newID()
		name := id + "." + c.extension

		taken, err := c.store.Exists(name)
		if err != nil {
			return "", "", fmt.Errorf("failed to check temporary file: %w", err)
		}
		if !taken {
			return id, name, nil
		}
		slog.Warn("Temporary identity already in use, generating another", "file", name, "attempt", attempt)
	}
	return "", "", fmt.Errorf("no free temporary identity after %d attempts", tempIdentityAttempts)
}

func (c *Controller) stop(ctx context.Context) error {
	if c.state != StateRecording {
		return invalidState("stop", c.state)
	}
	if c.stopRequested {
		return nil
	}

	err := c.bounded(ctx, func(context.Context) error { return c.recorder.StopRecording() }, nil)
	if err != nil {
		slog.Error("Failed to stop recorder", "error", err)
		return fmt.Errorf("failed to stop recorder: %w", err)
	}

	c.stopRequested = true
	c.publish()

	slog.Debug("Stop requested, awaiting recorder acknowledgment", "file", c.filename)
	return nil
}

func (c *Controller) rename(ctx context.Context, title, tagString string) error {
	switch {
	case c.state == StateStopped:
	case c.state == StateError && c.renameRetry:
	case c.state == StateIdle:
		slog.Error("No current recording to rename")
		return ErrNoActiveSession
	default:
		return invalidState("rename", c.state)
	}

	sess := c.session
	if sess == nil || sess.TempName == "" {
		slog.Error("No current recording to rename")
		return ErrNoActiveSession
	}

	target := naming.New(title, tagString, c.extension)
	finalName := target.Filename()

	slog.Info("New sample metadata", "title", target.Title, "tags", target.Tags, "extension", target.Extension)

	err := c.bounded(ctx, func(context.Context) error {
		return c.store.Move(sess.TempName, finalName)
	}, func(err error) {
		c.submit(context.Background(), func() { c.reconcileLateMove(sess, target, err) })
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRenameConflict, err)
		slog.Error("Failed to rename recording", "from", sess.TempName, "to", finalName, "error", err)

		c.state = StateError
		c.renameRetry = true
		c.lastErr = err
		c.publish()
		return err
	}

	c.finalize(sess, target)
	return nil
}

func (c *Controller) finalize(sess *Session, target naming.SampleFilename) {
	sess.Name = target.Filename()
	sess.Title = target.Title
	sess.Tags = target.Tags

	slog.Info("Renamed recording", "from", c.store.Path(sess.TempName), "to", c.store.Path(sess.Name))

	c.session = nil
	c.last = sess
	c.state = StateIdle
	c.filename = sess.Name
	c.stopRequested = false
	c.renameRetry = false
	c.lastErr = nil
	c.publish()
}

// reconcileLateMove applies a move that finished after its timeout
func (c *Controller) reconcileLateMove(sess *Session, target naming.SampleFilename, err error) {
	if err != nil {
		slog.Debug("Timed out rename failed", "from", sess.TempName, "error", err)
		return
	}
	if c.session != sess || c.state != StateError || !c.renameRetry {
		slog.Warn("Timed out rename completed after the session moved on", "file", c.store.Path(target.Filename()))
		return
	}
	slog.Info("Timed out rename completed", "file", target.Filename())
	c.finalize(sess, target)
}

func (c *Controller) reset() error {
	switch c.state {
	case StateIdle:
		return nil
	case StateRecording:
		return invalidState("reset", c.state)
	}

	if c.session != nil {
		slog.Info("Abandoning recording at temporary name", "file", c.store.Path(c.session.TempName))
	}

	c.session = nil
	c.last = nil
	c.state = StateIdle
	c.filename = ""
	c.stopRequested = false
	c.renameRetry = false
	c.lastErr = nil
	c.publish()
	return nil
}

func (c *Controller) handleEvent(ev audio.Event) {
	switch ev.Kind {
	case audio.EventStarted:
		slog.Debug("Recorder acknowledged start", "file", c.filename)

	case audio.EventStopped:
		switch c.state {
		case StateStopped:
			slog.Debug("Duplicate stop acknowledgment ignored")
		case StateRecording:
			c.state = StateStopped
			c.stopRequested = false
			c.publish()
			slog.Info("Recording stopped, awaiting rename", "file", c.filename)
		default:
			slog.Debug("Stop acknowledgment ignored", "state", c.state)
		}

	case audio.EventErrored:
		if c.session == nil {
			slog.Warn("Recorder error outside a session ignored", "state", c.state, "error", ev.Err)
			return
		}

		err := ErrRecorderRuntime
		if ev.Err != nil {
			err = fmt.Errorf("%w: %w", ErrRecorderRuntime, ev.Err)
		}
		slog.Error("Recording error", "file", c.filename, "error", err)

		c.state = StateError
		c.stopRequested = false
		c.renameRetry = false
		c.lastErr = err
		c.publish()

	default:
		slog.Warn("Unknown recorder event", "event", ev.Kind)
	}
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Filename:      c.filename,
		StopRequested: c.stopRequested,
		Recoverable:   c.state == StateError && c.renameRetry,
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	if c.session != nil {
		startedAt := c.session.StartedAt
		snap.StartedAt = &startedAt
	}
	return snap
}

func (c *Controller) publish() {
	snap := c.snapshot()
	slog.Debug("Session state published", "state", snap.State, "file", snap.Filename)
	c.broadcaster.publish(snap)
}
