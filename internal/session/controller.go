package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/heimdex-intel/internal/analysis"
	"github.com/heimdex/heimdex-intel/internal/detection"
)

// DefaultAnalysisTimeout bounds one background analysis.
const DefaultAnalysisTimeout = 10 * time.Minute

// Options configures a Controller.
type Options struct {
	Client          analysis.Client
	Logger          *slog.Logger
	Recorder        Recorder
	MaxMediaBytes   int64
	AnalysisTimeout time.Duration
}

// Snapshot is an immutable view of a session at one point in time.
type Snapshot struct {
	ID             string                `json:"session_id"`
	State          State                 `json:"state"`
	Error          string                `json:"error,omitempty"`
	FileName       string                `json:"file_name,omitempty"`
	MIMEType       string                `json:"mime_type,omitempty"`
	MediaBytes     int                   `json:"media_bytes"`
	Narrative      string                `json:"narrative"`
	Detections     []detection.Detection `json:"detections"`
	UniqueEntities int                   `json:"unique_entities"`
	Conversation   []analysis.Turn       `json:"conversation"`
	ChatBusy       bool                  `json:"chat_busy"`
	Logs           []LogEntry            `json:"logs"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Controller drives one session. All methods are safe for concurrent use.
//
// Every upload and reset bumps a generation counter. Background work captures
// the generation it was started under and applies its outcome only if the
// counter is unchanged, so a late reply never overwrites newer state.
type Controller struct {
	id              string
	client          analysis.Client
	logger          *slog.Logger
	recorder        Recorder
	maxMediaBytes   int64
	analysisTimeout time.Duration

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	generation   uint64
	cancel       context.CancelFunc
	state        State
	errMsg       string
	fileName     string
	mimeType     string
	data         []byte
	media        analysis.Media
	result       detection.AnalysisResult
	entities     int
	conversation []analysis.Turn
	chatBusy     bool
	logs         logFeed
	updatedAt    time.Time
	changed      chan struct{}
}

func NewController(id string, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}

	base, stop := context.WithCancel(context.Background())
	return &Controller{
		id:              id,
		client:          opts.Client,
		logger:          opts.Logger,
		recorder:        opts.Recorder,
		maxMediaBytes:   opts.MaxMediaBytes,
		analysisTimeout: opts.AnalysisTimeout,
		base:            base,
		stop:            stop,
		state:           StateIdle,
		updatedAt:       time.Now(),
		changed:         make(chan struct{}),
	}
}

func (c *Controller) ID() string {
	return c.id
}

// Upload replaces whatever the session held with a new video and starts
// analyzing it in the background. It returns once the media has been read;
// a *MediaDecodeFailure leaves the session in the error state.
func (c *Controller) Upload(ctx context.Context, name, mimeType string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateError {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	gen := c.beginLocked()
	c.state = StateUploading
	c.fileName = name
	c.logs.add(LogLoading, fmt.Sprintf("Uploading %s", name), time.Now())
	c.touchLocked()
	c.mu.Unlock()

	c.logger.Info("upload started", "file_name", name, "declared_type", mimeType)

	data, media, err := readMedia(r, name, mimeType, c.maxMediaBytes)
	if err == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &MediaDecodeFailure{Name: name, Err: ctxErr}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.closed {
		c.logger.Debug("upload superseded", "file_name", name)
		return ErrSuperseded
	}

	if err != nil {
		c.state = StateError
		c.errMsg = err.Error()
		c.logs.add(LogError, err.Error(), time.Now())
		c.touchLocked()
		c.logger.Warn("upload rejected", "file_name", name, "error", err)
		return err
	}

	c.data = data
	c.media = media
	c.mimeType = media.MIMEType
	c.state = StateAnalyzing
	c.logs.add(LogSuccess, fmt.Sprintf("Loaded %s (%d bytes)", name, len(data)), time.Now())
	c.logs.add(LogLoading, "Analyzing video", time.Now())
	c.touchLocked()

	actx, cancel := context.WithTimeout(c.base, c.analysisTimeout)
	c.cancel = cancel
	c.wg.Add(1)
	go c.runAnalysis(actx, cancel, gen, media)

	c.logger.Info("analysis started", "file_name", name, "mime_type", media.MIMEType, "bytes", len(data))
	return nil
}

func (c *Controller) runAnalysis(ctx context.Context, cancel context.CancelFunc, gen uint64, media analysis.Media) {
	defer c.wg.Done()
	defer cancel()

	start := time.Now()
	res, err := c.client.Analyze(ctx, media)
	if err == nil && res == nil {
		err = &analysis.AnalysisFailure{Err: errors.New("empty analysis result")}
	}
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("discarding stale analysis result", "generation", gen, "current", c.generation)
		return
	}
	c.cancel = nil

	if err != nil {
		var failure *analysis.AnalysisFailure
		if !errors.As(err, &failure) {
			err = &analysis.AnalysisFailure{Err: err}
		}
		c.state = StateError
		c.errMsg = err.Error()
		c.logs.add(LogError, err.Error(), time.Now())
		c.touchLocked()
		c.recorder.AnalysisCompleted(elapsed, detection.ParseStats{}, err)
		c.logger.Error("analysis failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}

	c.result = res.AnalysisResult
	if c.result.Detections == nil {
		c.result.Detections = []detection.Detection{}
	}
	c.entities = detection.UniqueEntities(c.result.Detections)
	c.state = StateActive
	c.logs.add(LogSuccess, fmt.Sprintf("Analysis complete: %d detections, %d unique entities",
		len(c.result.Detections), c.entities), time.Now())
	if res.Stats.Dropped > 0 {
		c.logs.add(LogInfo, fmt.Sprintf("Ignored %d malformed detection fragments", res.Stats.Dropped), time.Now())
	}
	c.touchLocked()
	c.recorder.AnalysisCompleted(elapsed, res.Stats, nil)
	c.logger.Info("session active",
		"duration_ms", elapsed.Milliseconds(),
		"detections", len(c.result.Detections),
		"unique_entities", c.entities,
	)
}

// Chat asks a follow-up question about the active video and blocks until the
// reply arrives. The user turn is recorded immediately. On failure an
// "Error: ..." assistant turn is recorded, the session stays active and the
// *analysis.ChatFailure is returned alongside that turn.
func (c *Controller) Chat(ctx context.Context, question string) (analysis.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return analysis.Turn{}, ErrEmptyQuestion
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return analysis.Turn{}, ErrClosed
	}
	if c.state != StateActive {
		c.mu.Unlock()
		return analysis.Turn{}, ErrNotActive
	}
	if c.chatBusy {
		c.mu.Unlock()
		return analysis.Turn{}, ErrChatBusy
	}
	gen := c.generation
	history := make([]analysis.Turn, len(c.conversation))
	copy(history, c.conversation)
	media := c.media
	c.conversation = append(c.conversation, analysis.Turn{
		Role:      analysis.RoleUser,
		Content:   question,
		Timestamp: time.Now(),
	})
	c.chatBusy = true
	c.touchLocked()
	c.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(c.base, cancel)
	defer stopAfter()

	start := time.Now()
	answer, err := c.client.Chat(cctx, media, question, history)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("discarding stale chat reply", "generation", gen, "current", c.generation)
		return analysis.Turn{}, ErrSuperseded
	}
	c.chatBusy = false

	if err != nil {
		var failure *analysis.ChatFailure
		if !errors.As(err, &failure) {
			err = &analysis.ChatFailure{Err: err}
		}
		turn := analysis.Turn{
			Role:      analysis.RoleAssistant,
			Content:   "Error: " + err.Error(),
			Timestamp: time.Now(),
		}
		c.conversation = append(c.conversation, turn)
		c.logs.add(LogError, err.Error(), time.Now())
		c.touchLocked()
		c.recorder.ChatCompleted(elapsed, err)
		c.logger.Warn("chat failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return turn, err
	}

	turn := analysis.Turn{
		Role:      analysis.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	}
	c.conversation = append(c.conversation, turn)
	c.touchLocked()
	c.recorder.ChatCompleted(elapsed, nil)
	c.logger.Info("chat answered", "duration_ms", elapsed.Milliseconds(), "turns", len(c.conversation))
	return turn, nil
}

// Reset returns the session to idle from any state, dropping the video, its
// results, the conversation and the log feed. In-flight work is cancelled and
// its eventual outcome ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.beginLocked()
	c.state = StateIdle
	c.logs.clear()
	c.touchLocked()
	c.logger.Info("session reset")
}

// beginLocked invalidates outstanding work and clears per-video state.
func (c *Controller) beginLocked() uint64 {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.errMsg = ""
	c.fileName = ""
	c.mimeType = ""
	c.data = nil
	c.media = analysis.Media{}
	c.result = detection.AnalysisResult{}
	c.entities = 0
	c.conversation = nil
	c.chatBusy = false
	return c.generation
}

// touchLocked stamps the update time and wakes everyone waiting on Changed.
func (c *Controller) touchLocked() {
	c.updatedAt = time.Now()
	close(c.changed)
	c.changed = make(chan struct{})
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	dets := make([]detection.Detection, len(c.result.Detections))
	copy(dets, c.result.Detections)
	conv := make([]analysis.Turn, len(c.conversation))
	copy(conv, c.conversation)

	return Snapshot{
		ID:             c.id,
		State:          c.state,
		Error:          c.errMsg,
		FileName:       c.fileName,
		MIMEType:       c.mimeType,
		MediaBytes:     len(c.data),
		Narrative:      c.result.Narrative,
		Detections:     dets,
		UniqueEntities: c.entities,
		Conversation:   conv,
		ChatBusy:       c.chatBusy,
		Logs:           c.logs.snapshot(),
		UpdatedAt:      c.updatedAt,
	}
}

// ActiveAt returns the detections visible at playback time t seconds.
func (c *Controller) ActiveAt(t float64) []detection.Detection {
	c.mu.Lock()
	dets := c.result.Detections
	c.mu.Unlock()
	return detection.ActiveAt(dets, t)
}

// Media returns the uploaded bytes for playback. The slice must not be
// modified.
func (c *Controller) Media() (name, mimeType string, data []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return "", "", nil, false
	}
	return c.fileName, c.mimeType, c.data, true
}

// Changed returns a channel that is closed on the next state change.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Wait blocks until the session is no longer uploading or analyzing.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		if !c.state.Busy() || c.closed {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case <-ch:
		}
	}
}

// Close cancels background work and waits for it to finish. The session
// rejects further uploads and chats.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.touchLocked()
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
	c.logger.Debug("session closed")
}
