// Package session models the identity of one watched child process: the
// stable key that joins the watcher, the hub, and any subscriber views.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusStopped Status = "stopped"
)

// IdleEvent is the wire-level value produced by the detector and consumed by
// sinks.
type IdleEvent struct {
	SessionID        string    `json:"session_id"`
	ToolName         string    `json:"tool_name"`
	WorkingDir       string    `json:"working_dir"`
	Timestamp        time.Time `json:"timestamp"`
	LastOutput       string    `json:"last_output"`
	IdleSeconds      float64   `json:"idle_seconds"`
	DetectionMethod  string    `json:"detection_method"`
}

// Session is the identity of one watched child process. It is created by
// the watcher before spawning the child, mutated only by the watcher, and
// destroyed when the watcher process exits.
type Session struct {
	id         string
	toolKey    string
	toolName   string
	argv       []string
	workingDir string
	createdAt  time.Time
	status     Status
	lastOutput string
	lastIdle   *IdleEvent
	pid        int
}

// New creates a Session with a fresh 8-character opaque identifier.
func New(toolKey, toolName string, argv []string, workingDir string) *Session {
	return &Session{
		id:         newID(),
		toolKey:    toolKey,
		toolName:   toolName,
		argv:       append([]string(nil), argv...),
		workingDir: workingDir,
		createdAt:  time.Now().UTC(),
		status:     StatusActive,
	}
}

// newID produces an 8-character lowercase hex identifier, matching the
// original Python implementation's uuid4().hex[:8].
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *Session) ID() string         { return s.id }
func (s *Session) ToolKey() string    { return s.toolKey }
func (s *Session) ToolName() string   { return s.toolName }
func (s *Session) Argv() []string     { return append([]string(nil), s.argv...) }
func (s *Session) WorkingDir() string { return s.workingDir }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Status() Status     { return s.status }
func (s *Session) LastOutput() string { return s.lastOutput }
func (s *Session) PID() int           { return s.pid }

// LastIdleEvent returns the most recent idle event, or nil if none has
// fired yet.
func (s *Session) LastIdleEvent() *IdleEvent { return s.lastIdle }

// DisplayName returns the "<tool>-<id>" form used in notifications.
func (s *Session) DisplayName() string {
	return s.toolName + "-" + s.id
}

// SetPID records the child's process id once spawned.
func (s *Session) SetPID(pid int) { s.pid = pid }

// MarkIdle transitions the session to IDLE, recording the output snippet
// and the triggering idle event.
func (s *Session) MarkIdle(lastOutput string, event IdleEvent) {
	s.status = StatusIdle
	s.lastOutput = lastOutput
	s.lastIdle = &event
}

// MarkActive transitions the session back to ACTIVE (new output observed).
func (s *Session) MarkActive() {
	s.status = StatusActive
}

// MarkStopped transitions the session to STOPPED (child process exited).
func (s *Session) MarkStopped() {
	s.status = StatusStopped
}
