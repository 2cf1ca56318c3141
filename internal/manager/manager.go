// Package manager owns the thread collection and the scheduler that runs
// one task per active assistant invocation.
//
// Concurrency contract: only one task may be in flight per thread at a
// time, an optional global cap bounds how many tasks are in their
// subprocess phase, and every diff is handed to the merge coordinator in
// worker-completion order — the coordinator's gate is the linearization
// point, not thread creation order.
package manager

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/soapko/harlowe/internal/claude"
	"github.com/soapko/harlowe/internal/merge"
	"github.com/soapko/harlowe/internal/sessionlog"
	"github.com/soapko/harlowe/internal/thread"
	"github.com/soapko/harlowe/internal/workspace"
)

// Default timing bounds. These are floors; nothing blocks forever.
const (
	// DefaultSubprocessTimeout is the ceiling on one assistant invocation.
	DefaultSubprocessTimeout = 300 * time.Second
	// DefaultTerminateTimeout is the graceful-exit window before killing.
	DefaultTerminateTimeout = 5 * time.Second
	// DefaultTaskWaitTimeout bounds waiting on a thread's prior task.
	DefaultTaskWaitTimeout = 10 * time.Second
)

// timeoutResponse is the canned assistant response on a subprocess
// timeout. The thread stays ACTIVE so follow-ups keep working.
const timeoutResponse = "Error: Claude response timed out"

// UpdateFunc is the host callback fired after every state-visible thread
// change.
type UpdateFunc func(*thread.Thread)

// Options configures a Manager.
type Options struct {
	DocumentPath  string
	ResourceFiles []string
	ClaudeCommand string
	// MaxConcurrent bounds concurrent subprocess phases; zero is
	// unlimited.
	MaxConcurrent int
	WorkspaceRoot string
	// PreserveWorkspaces keeps all workspaces on disk (debugging).
	PreserveWorkspaces bool

	Coordinator *merge.Coordinator
	Logger      *sessionlog.Logger

	SubprocessTimeout time.Duration
	TerminateTimeout  time.Duration
	TaskWaitTimeout   time.Duration
}

// Manager schedules assistant invocations for the document's threads.
type Manager struct {
	documentPath       string
	resourceFiles      []string
	executor           *claude.Executor
	coordinator        *merge.Coordinator
	logger             *sessionlog.Logger
	workspaceRoot      string
	preserveWorkspaces bool

	subprocessTimeout time.Duration
	terminateTimeout  time.Duration
	taskWaitTimeout   time.Duration

	sem chan struct{} // global cap on the subprocess phase, nil = unlimited

	mu       sync.Mutex
	threads  []*thread.Thread
	active   map[string]*task       // thread id -> in-flight task
	sendMu   map[string]*sync.Mutex // thread id -> send serializer
	onUpdate UpdateFunc
}

// New creates a Manager. The coordinator's host capability is wired here.
func New(opts Options) *Manager {
	m := &Manager{
		documentPath:       opts.DocumentPath,
		resourceFiles:      opts.ResourceFiles,
		executor:           &claude.Executor{Command: opts.ClaudeCommand},
		coordinator:        opts.Coordinator,
		logger:             opts.Logger,
		workspaceRoot:      opts.WorkspaceRoot,
		preserveWorkspaces: opts.PreserveWorkspaces,
		subprocessTimeout:  opts.SubprocessTimeout,
		terminateTimeout:   opts.TerminateTimeout,
		taskWaitTimeout:    opts.TaskWaitTimeout,
		active:             make(map[string]*task),
		sendMu:             make(map[string]*sync.Mutex),
	}
	if m.executor.Command == "" {
		m.executor.Command = "claude"
	}
	if m.subprocessTimeout <= 0 {
		m.subprocessTimeout = DefaultSubprocessTimeout
	}
	if m.terminateTimeout <= 0 {
		m.terminateTimeout = DefaultTerminateTimeout
	}
	if m.taskWaitTimeout <= 0 {
		m.taskWaitTimeout = DefaultTaskWaitTimeout
	}
	if opts.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	if m.coordinator != nil {
		m.coordinator.SetHost(m)
	}
	return m
}

// SetOnUpdate installs the host's update callback.
func (m *Manager) SetOnUpdate(fn UpdateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// notify fires the update callback. Callback panics are caught and
// logged, never propagated into the core.
func (m *Manager) notify(t *thread.Thread) {
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("manager: update callback panicked: %v", r)
		}
	}()
	fn(t)
}

// CreateThread constructs a thread in PENDING, appends it to the list,
// and spawns its first task. Non-blocking.
func (m *Manager) CreateThread(selectedText, initialRequest string, lineStart, lineEnd int) *thread.Thread {
	t := thread.New(selectedText, initialRequest, lineStart, lineEnd)

	m.mu.Lock()
	m.threads = append(m.threads, t)
	m.mu.Unlock()

	m.spawnTask(t, false)
	return t
}

// AddThread appends an externally constructed thread (e.g. loaded from
// persistence) without spawning a task.
func (m *Manager) AddThread(t *thread.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, t)
}

// SendMessage appends a user message to the thread and spawns a
// follow-up task. Any in-flight task for the thread is awaited first,
// with a bounded wait after which it is cancelled. COMPLETED threads are
// auto-reopened; FAILED threads refuse immediately.
func (m *Manager) SendMessage(t *thread.Thread, content string) error {
	if t.GetStatus() == thread.StatusFailed {
		return fmt.Errorf("cannot send message to failed thread %s", t.ID)
	}

	// Serialize sends per thread so concurrent callers cannot spawn two
	// tasks for the same thread.
	lock := m.sendLock(t.ID)
	lock.Lock()
	defer lock.Unlock()

	if tk := m.taskFor(t.ID); tk != nil {
		select {
		case <-tk.finished:
		case <-time.After(m.taskWaitTimeout):
			log.Printf("manager: task for thread %s timed out, cancelling", t.ID)
			tk.cancelTask()
			if inv := tk.invocation(); inv != nil {
				inv.Terminate(m.terminateTimeout)
			}
			<-tk.finished
		}
	}

	if t.GetStatus() == thread.StatusCompleted {
		t.SetStatus(thread.StatusActive)
		m.notify(t)
	}

	t.AddMessage(thread.RoleUser, content)
	t.SetAwaiting(true)
	m.notify(t)

	m.spawnTask(t, true)
	return nil
}

// Cancel terminates a thread's subprocess and task. The document is
// untouched: a cancelled task never hands its diff to the coordinator.
// Idempotent.
func (m *Manager) Cancel(t *thread.Thread) {
	if tk := m.taskFor(t.ID); tk != nil {
		// Cancel the task first so a terminating subprocess cannot race
		// its diff into the coordinator, then bring the process down.
		tk.cancelTask()
		if inv := tk.invocation(); inv != nil {
			inv.Terminate(m.terminateTimeout)
		}
		<-tk.finished
	}

	t.SetStatus(thread.StatusCompleted)
	m.logEvent(sessionlog.EventCancel, t.ID, "")
	m.notify(t)
}

// Close marks a thread completed.
func (m *Manager) Close(t *thread.Thread) {
	t.SetStatus(thread.StatusCompleted)
	m.notify(t)
}

// Reopen reactivates a completed thread.
func (m *Manager) Reopen(t *thread.Thread) error {
	if t.GetStatus() != thread.StatusCompleted {
		return fmt.Errorf("can only reopen completed threads, status is %s", t.GetStatus())
	}
	t.SetStatus(thread.StatusActive)
	m.notify(t)
	return nil
}

// PostStatus appends a system annotation to the thread's transcript,
// rendered in the uniform reporting style, and notifies subscribers.
func (m *Manager) PostStatus(t *thread.Thread, text string) {
	t.AddSystemMessage(fmt.Sprintf("[Harlowe]: %s 🤖", text))
	m.notify(t)
}

// SpawnResolutionThread synthesizes a system-owned thread carrying a
// conflict narrative and surfaces it in the thread list.
func (m *Manager) SpawnResolutionThread(context string, metadata map[string]interface{}) *thread.Thread {
	rt := thread.New("[Merge Conflict Resolution]", context, 0, 0)
	rt.SetStatus(thread.StatusActive)
	rt.SetMeta(thread.MetaIsSystemThread, true)
	for k, v := range metadata {
		rt.SetMeta(k, v)
	}

	rt.AddSystemMessage("[Harlowe]: Conflict resolution thread 🤖")
	rt.AddMessage(thread.RoleAssistant, context)

	m.mu.Lock()
	m.threads = append(m.threads, rt)
	m.mu.Unlock()

	m.notify(rt)
	return rt
}

// Threads returns a snapshot of all threads.
func (m *Manager) Threads() []*thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*thread.Thread, len(m.threads))
	copy(out, m.threads)
	return out
}

// ThreadsForLine returns the threads whose selection covers the given
// 1-indexed line.
func (m *Manager) ThreadsForLine(n int) []*thread.Thread {
	var out []*thread.Thread
	for _, t := range m.Threads() {
		if t.ContainsLine(n) {
			out = append(out, t)
		}
	}
	return out
}

// ActiveThreads returns threads currently in ACTIVE status.
func (m *Manager) ActiveThreads() []*thread.Thread {
	var out []*thread.Thread
	for _, t := range m.Threads() {
		if t.GetStatus() == thread.StatusActive {
			out = append(out, t)
		}
	}
	return out
}

// ActiveCount returns how many invocations are in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// WaitForAll blocks until every in-flight task completes.
func (m *Manager) WaitForAll() {
	for _, tk := range m.snapshotTasks() {
		<-tk.finished
	}
}

// Shutdown terminates all subprocesses and tasks and clears tracking.
// Bounded: SIGTERM fan-out, one graceful window shared across processes,
// kill survivors, then await tasks. Safe against already-dead processes
// and already-cancelled tasks.
func (m *Manager) Shutdown() {
	tasks := m.snapshotTasks()

	for _, tk := range tasks {
		tk.cancelTask()
	}

	var wg sync.WaitGroup
	for _, tk := range tasks {
		if inv := tk.invocation(); inv != nil {
			wg.Add(1)
			go func(inv *claude.Invocation) {
				defer wg.Done()
				inv.Terminate(m.terminateTimeout)
			}(inv)
		}
	}
	wg.Wait()

	deadline := time.After(m.taskWaitTimeout)
	for _, tk := range tasks {
		select {
		case <-tk.finished:
		case <-deadline:
		}
	}

	m.mu.Lock()
	m.active = make(map[string]*task)
	m.mu.Unlock()

	m.logEvent(sessionlog.EventShutdown, "", "")
}

// task is one in-flight invocation for a thread.
type task struct {
	finished   chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu  sync.Mutex
	inv *claude.Invocation
}

func newTask() *task {
	return &task{
		finished: make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

func (tk *task) cancelTask() {
	tk.cancelOnce.Do(func() { close(tk.cancelCh) })
}

func (tk *task) isCancelled() bool {
	select {
	case <-tk.cancelCh:
		return true
	default:
		return false
	}
}

func (tk *task) setInvocation(inv *claude.Invocation) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.inv = inv
}

func (tk *task) invocation() *claude.Invocation {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.inv
}

func (m *Manager) taskFor(threadID string) *task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[threadID]
}

func (m *Manager) snapshotTasks() []*task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*task, 0, len(m.active))
	for _, tk := range m.active {
		out = append(out, tk)
	}
	return out
}

func (m *Manager) sendLock(threadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.sendMu[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.sendMu[threadID] = lock
	}
	return lock
}

// spawnTask registers and launches the task goroutine for one
// invocation.
func (m *Manager) spawnTask(t *thread.Thread, followUp bool) {
	tk := newTask()

	m.mu.Lock()
	m.active[t.ID] = tk
	m.mu.Unlock()

	go func() {
		defer close(tk.finished)
		defer func() {
			m.mu.Lock()
			if m.active[t.ID] == tk {
				delete(m.active, t.ID)
			}
			m.mu.Unlock()
		}()

		err := m.process(tk, t, followUp)
		if err != nil && !tk.isCancelled() {
			t.SetError(err.Error())
			t.SetStatus(thread.StatusFailed)
			t.SetAwaiting(false)
			m.logEvent(sessionlog.EventCrash, t.ID, err.Error())
			m.notify(t)
		}
	}()
}

// process runs one invocation end to end: workspace, subprocess, diff,
// merge handoff. On failure the workspace is preserved for post-mortem
// and the error propagates so the task marks the thread FAILED.
func (m *Manager) process(tk *task, t *thread.Thread, followUp bool) error {
	// Global cap: held across the whole subprocess phase. Cancellation
	// releases a task waiting for a slot.
	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-tk.cancelCh:
			return nil
		}
	}
	if tk.isCancelled() {
		return nil
	}

	t.SetStatus(thread.StatusActive)
	m.notify(t)

	messageID := fmt.Sprintf("msg-%d", t.MessageCount())
	ws := workspace.New(m.workspaceRoot, m.documentPath, t.ID, messageID, m.resourceFiles)
	info, err := ws.Acquire()
	if err != nil {
		return fmt.Errorf("acquiring workspace: %w", err)
	}
	if m.preserveWorkspaces {
		ws.PreserveForDebug()
	}
	defer ws.Release()

	if err := m.invoke(tk, t, ws, info, followUp); err != nil {
		ws.PreserveForDebug()
		return err
	}
	return nil
}

// invoke spawns the assistant in the workspace, records the exchange,
// and hands any diff to the coordinator.
func (m *Manager) invoke(tk *task, t *thread.Thread, ws *workspace.Workspace, info *workspace.Info, followUp bool) error {
	// Prompts name the workspace-local file, never the live path.
	fileName := filepath.Base(info.File)
	var prompt string
	if followUp {
		prompt = claude.ConversationPrompt(t, fileName, m.resourceFiles)
	} else {
		prompt = claude.InitialPrompt(t, fileName, m.resourceFiles)
	}

	m.logEvent(sessionlog.EventSpawn, t.ID, "")

	inv, err := m.executor.Start(info.Dir, prompt)
	if err != nil {
		return fmt.Errorf("spawning assistant: %w", err)
	}
	tk.setInvocation(inv)
	defer tk.setInvocation(nil)

	// A cancel issued before the invocation was registered couldn't
	// reach the process; bring it down ourselves.
	if tk.isCancelled() {
		inv.Terminate(m.terminateTimeout)
		return nil
	}

	response, err := inv.Wait(m.subprocessTimeout, m.terminateTimeout)
	if errors.Is(err, claude.ErrTimeout) {
		// Timeouts are not fatal: the thread stays ACTIVE so follow-ups
		// keep working.
		response = timeoutResponse
		m.logEvent(sessionlog.EventTimeout, t.ID, "")
	} else if err != nil {
		return fmt.Errorf("reading assistant response: %w", err)
	}

	if tk.isCancelled() {
		// Cancelled before handoff: the diff is dropped.
		return nil
	}

	if !followUp {
		t.AddMessage(thread.RoleUser, t.InitialRequest)
	}
	t.AddMessage(thread.RoleAssistant, response)
	t.SetAwaiting(false)
	m.logEvent(sessionlog.EventResponse, t.ID, "")

	wd := ws.Diff()
	if wd.HasChanges() && m.coordinator != nil {
		m.coordinator.QueueMerge(t, wd)
	}

	m.notify(t)
	return nil
}

func (m *Manager) logEvent(eventType sessionlog.EventType, threadID, context string) {
	if m.logger != nil {
		m.logger.Log(eventType, threadID, context)
	}
}
