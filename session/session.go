// Package session owns the client-side state of one conversation thread.
//
// A Session ties the message tree, checkpoint index and interrupt
// coordinator to a run adapter. It applies run results to the tree as they
// stream, keeps the backend copy of the tree in sync on a debounce, and
// re-checks interrupt state when the visible branch changes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/pithecene-io/waypoint/adapter"
	"github.com/pithecene-io/waypoint/checkpoint"
	"github.com/pithecene-io/waypoint/client"
	"github.com/pithecene-io/waypoint/hitl"
	"github.com/pithecene-io/waypoint/lode"
	"github.com/pithecene-io/waypoint/log"
	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/repostore"
	"github.com/pithecene-io/waypoint/runtime"
	"github.com/pithecene-io/waypoint/thread"
	"github.com/pithecene-io/waypoint/toolkit"
	"github.com/pithecene-io/waypoint/types"
)

// Default debounce delays.
const (
	DefaultSyncDelay      = 500 * time.Millisecond
	DefaultRehydrateDelay = 300 * time.Millisecond
)

// Sentinel errors.
var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrEmptyMessage is returned when sending an empty message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrWrongRole is returned when an operation targets a message of the
	// wrong role.
	ErrWrongRole = errors.New("message has the wrong role")
)

// Backend is the chat backend as seen by a session.
type Backend interface {
	runtime.Backend
	InterruptStatus(ctx context.Context, threadID, checkpointID string) (*client.InterruptStatus, error)
	GetRepo(ctx context.Context, threadID string) (*types.ExportedRepo, error)
	PutRepo(ctx context.Context, threadID string, repo types.ExportedRepo) error
}

// Config configures a Session. ThreadID and Backend are required.
type Config struct {
	ThreadID string
	Backend  Backend
	Tools    *toolkit.Table
	Logger   *log.Logger
	// Collector receives session counters. Nil creates one.
	Collector *metrics.Collector
	// Journal opens a per-run frame journal. May be nil.
	Journal runtime.JournalFactory
	// Notifier receives run-finished events. May be nil.
	Notifier adapter.Adapter
	// Cache keeps a local copy of the tree for when the backend repo
	// endpoint is unavailable. May be nil.
	Cache repostore.Store
	// Archive receives a JSON snapshot of the tree on every Flush. May be nil.
	Archive lode.FileWriter
	// OnCancel is called when a run is cancelled by its caller.
	OnCancel func(meta types.RunMeta)

	SyncDelay      time.Duration
	RehydrateDelay time.Duration
}

// Session is one thread's client-side state. It is safe for concurrent use;
// one run is active at a time and starting another detaches the first.
type Session struct {
	threadID  string
	backend   Backend
	tree      *thread.Tree
	index     *checkpoint.Index
	coord     *hitl.Coordinator
	runs      *runtime.Adapter
	cache     repostore.Store
	archive   lode.FileWriter
	logger    *log.Logger
	collector *metrics.Collector

	syncer     *Debouncer
	rehydrater *Debouncer
	flights    singleflight.Group

	// bg scopes debounced background work; cancelled by Close.
	bg       context.Context
	bgCancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	runSeq        int64
	activeRun     int64
	cancelRun     context.CancelCauseFunc
	lastAssistant string
}

// New creates a session with an empty tree. Call Load to fetch the stored
// tree.
func New(cfg Config) (*Session, error) {
	if cfg.ThreadID == "" {
		return nil, errors.New("session: thread id is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewCollector("none", "none", cfg.ThreadID)
	}
	if cfg.SyncDelay <= 0 {
		cfg.SyncDelay = DefaultSyncDelay
	}
	if cfg.RehydrateDelay <= 0 {
		cfg.RehydrateDelay = DefaultRehydrateDelay
	}

	bg, cancel := context.WithCancel(context.Background())
	s := &Session{
		threadID:   cfg.ThreadID,
		backend:    cfg.Backend,
		index:      checkpoint.NewIndex(),
		coord:      hitl.New(),
		cache:      cfg.Cache,
		archive:    cfg.Archive,
		logger:     logger,
		collector:  collector,
		syncer:     NewDebouncer(cfg.SyncDelay),
		rehydrater: NewDebouncer(cfg.RehydrateDelay),
		bg:         bg,
		bgCancel:   cancel,
	}
	s.tree = thread.New(thread.WithOnChange(s.scheduleSync))

	runs, err := runtime.NewAdapter(runtime.AdapterConfig{
		Client:      cfg.Backend,
		Index:       s.index,
		Coordinator: s.coord,
		Tools:       cfg.Tools,
		Logger:      logger,
		Collector:   collector,
		Journal:     cfg.Journal,
		Notifier:    cfg.Notifier,
		Hooks: runtime.Hooks{
			OnCancel: cfg.OnCancel,
			OnError: func(meta types.RunMeta, err error) {
				logger.ForRun(&meta).Warn("run side effect failed", map[string]any{"error": err.Error()})
			},
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.runs = runs
	return s, nil
}

// ThreadID returns the thread id.
func (s *Session) ThreadID() string { return s.threadID }

// Tree returns the message tree.
func (s *Session) Tree() *thread.Tree { return s.tree }

// Index returns the checkpoint index.
func (s *Session) Index() *checkpoint.Index { return s.index }

// Coordinator returns the interrupt coordinator.
func (s *Session) Coordinator() *hitl.Coordinator { return s.coord }

// Collector returns the session counters.
func (s *Session) Collector() *metrics.Collector { return s.collector }

// Load replaces the tree with the stored one. The backend is asked first;
// if it fails the local cache is used. The checkpoint index is rebuilt and
// interrupt state rehydrated for the loaded head.
func (s *Session) Load(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	repo, err := s.backend.GetRepo(ctx, s.threadID)
	if err != nil {
		s.logger.Warn("repo fetch failed", map[string]any{"error": err.Error()})
		cached, cerr := s.loadCached(ctx)
		if cerr != nil {
			return fmt.Errorf("load repo: %w", err)
		}
		repo = cached
	}
	if repo == nil {
		repo = &types.ExportedRepo{}
	}

	if err := s.tree.Import(*repo); err != nil {
		return fmt.Errorf("import repo: %w", err)
	}
	// The tree now matches the backend; nothing to sync.
	s.syncer.Cancel()

	n := s.index.Rebuild(*repo)
	s.collector.IncIndexRebuild()
	s.logger.Info("thread loaded", map[string]any{
		"messages":    len(repo.Messages),
		"checkpoints": n,
	})

	s.mu.Lock()
	if la, ok := s.tree.LastAssistant(); ok {
		s.lastAssistant = la.ID
	}
	s.mu.Unlock()

	if err := s.RehydrateInterrupt(ctx); err != nil {
		s.logger.Warn("interrupt rehydrate failed", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *Session) loadCached(ctx context.Context) (*types.ExportedRepo, error) {
	if s.cache == nil {
		return nil, repostore.ErrNotFound
	}
	repo, err := s.cache.Load(ctx, s.threadID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("using cached repo", nil)
	return repo, nil
}

// Send starts a new user turn under the current head. Any pending interrupt
// is abandoned.
func (s *Session) Send(ctx context.Context, text string) (iter.Seq[types.RunResult], error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.coord.Reset()
	user := newMessage(types.RoleUser, text)
	return s.startRun(ctx, &user, s.tree.Head(), nil), nil
}

// Edit starts a new user turn as a sibling of userMessageID.
func (s *Session) Edit(ctx context.Context, userMessageID, text string) (iter.Seq[types.RunResult], error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	msg, parent, ok := s.tree.MessageByID(userMessageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", thread.ErrUnknownMessage, userMessageID)
	}
	if msg.Role != types.RoleUser {
		return nil, fmt.Errorf("%w: edit %s (%s)", ErrWrongRole, userMessageID, msg.Role)
	}
	s.coord.Reset()
	user := newMessage(types.RoleUser, text)
	return s.startRun(ctx, &user, parent, nil), nil
}

// Reload regenerates assistantMessageID as a new sibling branch.
func (s *Session) Reload(ctx context.Context, assistantMessageID string) (iter.Seq[types.RunResult], error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	msg, parent, ok := s.tree.MessageByID(assistantMessageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", thread.ErrUnknownMessage, assistantMessageID)
	}
	if msg.Role != types.RoleAssistant {
		return nil, fmt.Errorf("%w: reload %s (%s)", ErrWrongRole, assistantMessageID, msg.Role)
	}
	s.coord.Reset()
	return s.startRun(ctx, nil, parent, nil), nil
}

// SubmitDecisions submits the coordinator's decision batch and resumes the
// interrupted run under the interrupted assistant message. Validation
// failures return the coordinator's error and send nothing.
func (s *Session) SubmitDecisions(ctx context.Context) (iter.Seq[types.RunResult], error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	sub, err := s.coord.Submit()
	if err != nil {
		if hitl.IsValidationError(err) {
			s.collector.IncSubmitValidationFail()
		}
		return nil, err
	}
	s.collector.IncDecisionsSubmitted()
	approval := sub.Approval
	return s.startRun(ctx, nil, sub.MessageID, &approval), nil
}

// SwitchBranch moves the head to the newest leaf under messageID. When the
// last assistant message on the new path differs, interrupt state is
// rehydrated after a debounce.
func (s *Session) SwitchBranch(messageID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.tree.SetHead(s.tree.Leaf(messageID)); err != nil {
		return err
	}
	s.scheduleRehydrate()
	return nil
}

func (s *Session) scheduleRehydrate() {
	id := ""
	if la, ok := s.tree.LastAssistant(); ok {
		id = la.ID
	}
	s.mu.Lock()
	changed := id != s.lastAssistant
	s.lastAssistant = id
	s.mu.Unlock()

	if changed {
		s.rehydrater.Debounce(func() {
			if err := s.RehydrateInterrupt(s.bg); err != nil {
				s.logger.Warn("interrupt rehydrate failed", map[string]any{"error": err.Error()})
			}
		})
	}
}

// RehydrateInterrupt asks the backend whether the last assistant message on
// the head path is suspended and updates the coordinator to match. A failed
// query leaves the coordinator untouched. Concurrent calls for the same
// checkpoint share one request.
func (s *Session) RehydrateInterrupt(ctx context.Context) error {
	la, ok := s.tree.LastAssistant()
	if !ok {
		s.coord.Reset()
		return nil
	}
	cp := la.Checkpoint()
	if cp == "" {
		cp, _ = s.index.Lookup(la.ID)
	}

	v, err, _ := s.flights.Do(s.threadID+"\x00"+cp, func() (any, error) {
		return s.backend.InterruptStatus(ctx, s.threadID, cp)
	})
	if err != nil {
		return fmt.Errorf("interrupt status: %w", err)
	}
	st := v.(*client.InterruptStatus)
	if st.Interrupted && st.Payload != nil {
		s.coord.Capture(*st.Payload, la.ID)
		s.collector.IncInterruptCaptured()
		return nil
	}
	s.coord.Reset()
	return nil
}

// Flush syncs the tree now instead of waiting for the debounce, and writes
// an archive snapshot when an archive is configured.
func (s *Session) Flush(ctx context.Context) error {
	s.syncer.Cancel()
	err := s.sync(ctx)
	if s.archive != nil {
		if aerr := s.archiveRepo(ctx); aerr != nil {
			err = errors.Join(err, aerr)
		}
	}
	return err
}

func (s *Session) scheduleSync() {
	s.syncer.Debounce(func() {
		_ = s.sync(s.bg)
	})
}

// sync pushes the confirmed tree to the backend and the local cache.
func (s *Session) sync(ctx context.Context) error {
	repo := s.tree.Export()
	err := s.backend.PutRepo(ctx, s.threadID, repo)
	s.collector.IncRepoSync(err == nil)
	if err != nil {
		s.logger.Warn("repo sync failed", map[string]any{"error": err.Error()})
	}
	if s.cache != nil {
		if cerr := s.cache.Save(ctx, s.threadID, repo); cerr != nil {
			s.logger.Warn("repo cache save failed", map[string]any{"error": cerr.Error()})
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (s *Session) archiveRepo(ctx context.Context) error {
	data, err := json.Marshal(s.tree.Export())
	if err != nil {
		return fmt.Errorf("marshal repo: %w", err)
	}
	name := fmt.Sprintf("repo-%d.json", time.Now().UTC().UnixMilli())
	if err := s.archive.PutFile(ctx, name, "application/json", data); err != nil {
		s.logger.Warn("repo archive failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

// Close stops background work and detaches any active run. Injected
// dependencies are not closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancelRun := s.cancelRun
	s.mu.Unlock()

	if cancelRun != nil {
		cancelRun(runtime.ErrDetach)
	}
	s.syncer.Stop()
	s.rehydrater.Stop()
	s.bgCancel()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// takeover registers a new active run and detaches the previous one.
func (s *Session) takeover(cancel context.CancelCauseFunc) int64 {
	s.mu.Lock()
	prev := s.cancelRun
	s.runSeq++
	id := s.runSeq
	s.activeRun = id
	s.cancelRun = cancel
	s.mu.Unlock()

	if prev != nil {
		prev(runtime.ErrDetach)
	}
	return id
}

func (s *Session) release(id int64) {
	s.mu.Lock()
	if s.activeRun == id {
		s.activeRun = 0
		s.cancelRun = nil
	}
	s.mu.Unlock()
}

// startRun adds the optimistic messages and drives a run into a new
// assistant message under parentID (or under user, when given).
//
// The user and assistant messages stay in the pending layer until the
// backend accepts the request. A run that fails before that discards them.
// A decision batch travels with the request, so a sequence that is never
// ranged leaves nothing queued for the next run.
func (s *Session) startRun(ctx context.Context, user *types.Message, parentID string, feedback *types.ApprovalData) iter.Seq[types.RunResult] {
	return func(yield func(types.RunResult) bool) {
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		id := s.takeover(cancel)
		defer s.release(id)

		runParent := parentID
		var pendingRoot string
		if user != nil {
			if err := s.tree.AddPending(parentID, *user); err != nil {
				yield(types.ErrorResult("Backend error: " + err.Error()))
				return
			}
			runParent = user.ID
			pendingRoot = user.ID
		}

		assistant := newMessage(types.RoleAssistant, "")
		running := types.RunStatus{Type: types.RunStatusRunning}
		assistant.Status = &running
		if err := s.tree.AddPending(runParent, assistant); err != nil {
			if pendingRoot != "" {
				_ = s.tree.Discard(pendingRoot)
			}
			yield(types.ErrorResult("Backend error: " + err.Error()))
			return
		}
		if pendingRoot == "" {
			pendingRoot = assistant.ID
		}

		opened := false
		req := runtime.RunRequest{
			ThreadID:           s.threadID,
			Messages:           s.tree.PathTo(runParent),
			ParentID:           runParent,
			AssistantMessageID: assistant.ID,
			Lookup:             s.tree,
			Exporter:           s.tree,
			Feedback:           feedback,
			OnOpen: func() {
				opened = true
				if user != nil {
					s.confirm(user.ID)
				}
				s.confirm(assistant.ID)
			},
		}

		var last *types.RunStatus
		stopped := false
		for res := range s.runs.Run(ctx, req) {
			if res.Status != nil {
				st := *res.Status
				last = &st
			}
			s.apply(assistant.ID, res)
			if !yield(res) {
				stopped = true
				break
			}
		}

		if !opened {
			if err := s.tree.Discard(pendingRoot); err != nil {
				s.logger.Warn("discard pending failed", map[string]any{"error": err.Error()})
			}
			return
		}

		final := runtime.FinalStatus(last)
		if stopped && (last == nil || !(types.RunResult{Status: last}).IsTerminal()) {
			final = types.StatusCancelled
		}
		_ = s.tree.Update(assistant.ID, func(m *types.Message) { m.Status = &final })

		s.mu.Lock()
		s.lastAssistant = assistant.ID
		s.mu.Unlock()
	}
}

func (s *Session) confirm(id string) {
	if err := s.tree.Confirm(id); err != nil {
		s.logger.Warn("confirm failed", map[string]any{"message_id": id, "error": err.Error()})
	}
}

// apply writes one run result into the assistant message.
func (s *Session) apply(assistantID string, res types.RunResult) {
	err := s.tree.Update(assistantID, func(m *types.Message) {
		if res.Content != nil {
			m.Content = res.Content
		}
		if res.Status != nil {
			st := *res.Status
			m.Status = &st
		}
		if res.Metadata != nil {
			md := res.Metadata.Clone()
			m.Metadata = &md
		}
	})
	if err != nil {
		s.logger.Warn("apply result failed", map[string]any{"message_id": assistantID, "error": err.Error()})
	}
}

func newMessage(role types.Role, text string) types.Message {
	m := types.Message{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if text != "" {
		m.Content = []types.Part{types.TextPart(text)}
	}
	return m
}
