package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/tapedeck/internal/config"
)

const stderrTailLines = 20

// FFmpegRecorder implements the Recorder interface by running ffmpeg
type FFmpegRecorder struct {
	cfg config.RecorderConfig

	mutex         sync.Mutex
	sink          EventSink
	cmd           *exec.Cmd
	destination   string
	stopRequested bool
	killTimer     *time.Timer
	killed        bool
	stderrTail    []string
}

// NewFFmpegRecorder creates a new ffmpeg-based recorder
func NewFFmpegRecorder(cfg *config.Config) *FFmpegRecorder {
	return &FFmpegRecorder{cfg: cfg.Recorder}
}

// SetEventSink registers the receiver of lifecycle events
func (r *FFmpegRecorder) SetEventSink(sink EventSink) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sink = sink
}

// StartRecording launches ffmpeg writing to destination
func (r *FFmpegRecorder) StartRecording(ctx context.Context, destination string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("recording already in progress: %s", r.destination)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := r.buildArgs(destination)
	slog.Info("Starting ffmpeg", "command", r.cfg.Binary+" "+strings.Join(args, " "))

	cmd := exec.Command(r.cfg.Binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	r.cmd = cmd
	r.destination = destination
	r.stopRequested = false
	r.killed = false
	r.stderrTail = nil

	outputDone := make(chan struct{})
	go r.readOutput(stderr, outputDone)
	go r.wait(cmd, outputDone)

	return nil
}

// StopRecording sends SIGINT to ffmpeg so it can finalize the file.
// The process is killed if it has not exited after the stop timeout.
func (r *FFmpegRecorder) StopRecording() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cmd == nil || r.cmd.Process == nil {
		return fmt.Errorf("no recording in progress")
	}
	if r.stopRequested {
		return nil
	}
	r.stopRequested = true

	process := r.cmd.Process
	slog.Debug("Sending SIGINT to ffmpeg process", "pid", process.Pid)
	if err := process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to ffmpeg, killing", "error", err)
		process.Kill()
	}

	timeout := r.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r.killTimer = time.AfterFunc(timeout, func() {
		slog.Warn("ffmpeg did not exit within timeout, force killing", "timeout", timeout)
		r.mutex.Lock()
		if r.cmd != nil && r.cmd.Process == process {
			r.killed = true
		}
		r.mutex.Unlock()
		process.Kill()
	})

	return nil
}

// wait reports how the ffmpeg process ended
func (r *FFmpegRecorder) wait(cmd *exec.Cmd, outputDone <-chan struct{}) {
	r.emit(Started())

	// all pipe reads must finish before Wait
	<-outputDone
	err := cmd.Wait()

	r.mutex.Lock()
	stopRequested := r.stopRequested
	killed := r.killed
	destination := r.destination
	tail := strings.Join(r.stderrTail, "\n")
	if r.killTimer != nil {
		r.killTimer.Stop()
		r.killTimer = nil
	}
	r.cmd = nil
	r.mutex.Unlock()

	switch {
	case killed:
		slog.Warn("ffmpeg was killed before finalizing", "output", destination)
		r.emit(Errored(fmt.Errorf("ffmpeg killed after stop timeout, %s may be incomplete", destination)))
	case stopRequested && exitedCleanly(err):
		slog.Debug("ffmpeg exited after stop request", "output", destination)
		r.emit(Stopped())
	case stopRequested:
		r.emit(Errored(fmt.Errorf("ffmpeg failed while stopping: %w", err)))
	case err == nil:
		slog.Info("ffmpeg finished on its own", "output", destination)
		r.emit(Stopped())
	default:
		slog.Debug("ffmpeg stderr", "output", tail)
		r.emit(Errored(fmt.Errorf("ffmpeg exited unexpectedly: %w: %s", err, lastLine(tail))))
	}
}

// readOutput keeps the tail of ffmpeg's stderr for error reports
func (r *FFmpegRecorder) readOutput(pipe io.Reader, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		slog.Debug("ffmpeg output", "line", line)

		r.mutex.Lock()
		r.stderrTail = append(r.stderrTail, line)
		if len(r.stderrTail) > stderrTailLines {
			r.stderrTail = r.stderrTail[len(r.stderrTail)-stderrTailLines:]
		}
		r.mutex.Unlock()
	}
}

func (r *FFmpegRecorder) emit(ev Event) {
	r.mutex.Lock()
	sink := r.sink
	r.mutex.Unlock()

	if sink == nil {
		slog.Warn("Recorder event dropped, no sink registered", "event", ev.Kind)
		return
	}
	sink.Deliver(ev)
}

// buildArgs constructs the ffmpeg argument list for one capture
func (r *FFmpegRecorder) buildArgs(destination string) []string {
	args := []string{"-hide_banner", "-nostdin"}

	if level := os.Getenv("FFMPEG_LOGLEVEL"); level != "" {
		args = append(args, "-loglevel", level)
	}

	args = append(args, "-f", r.cfg.InputFormat, "-i", r.cfg.InputDevice)

	if r.cfg.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(r.cfg.Channels))
	}
	if r.cfg.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(r.cfg.SampleRate))
	}
	if r.cfg.Codec != "" {
		args = append(args, "-c:a", r.cfg.Codec)
	}

	// -n: never overwrite an existing file
	return append(args, "-n", destination)
}

// exitedCleanly treats the exit codes ffmpeg produces on SIGINT as success
func exitedCleanly(err error) bool {
	if err == nil {
		return true
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}

	// 255 is ffmpeg's exit code after a handled interrupt
	if exitErr.ExitCode() == 255 {
		return true
	}

	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if state == "signal: interrupt" {
			return true
		}
	}

	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
