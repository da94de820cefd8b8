package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"sonara/internal/audio"
	"sonara/internal/chunking"
	"sonara/internal/observability"
	"sonara/internal/protocol"
	"sonara/internal/store"
	"sonara/internal/tts"
)

// Broadcaster delivers best-effort notifications to observer contexts.
type Broadcaster interface {
	Broadcast(msg any)
}

// LifecycleGuard keeps the host process alive while work is in flight.
type LifecycleGuard interface {
	Start()
	Stop()
}

// ClientFactory builds a speech client bound to the credential stored in
// the settings document at job time.
type ClientFactory func(apiKey string) tts.Client

// Config tunes the generation pipeline. Zero values select production
// defaults.
type Config struct {
	MaxChunkChars    int
	InterChunkDelay  time.Duration
	JobTimeout       time.Duration
	TimeoutRetryWait time.Duration
	DefaultAPIKey    string
	DefaultVoice     string
}

const (
	defaultInterChunkDelay  = 300 * time.Millisecond
	defaultJobTimeout       = 10 * time.Minute
	defaultTimeoutRetryWait = 10 * time.Minute

	// Jobs at or below this many chunks log every chunk so granularity is
	// preserved when total work is small.
	smallJobChunkThreshold = 5
	logEveryPercent        = 10
)

const quotaUserMessage = "Storage quota exceeded. Audio file is too large. " +
	"Please try with a shorter article or free up storage space."

// Runner orchestrates one generation job end to end: admission, chunking,
// the synthesis loop, persistence, logging and the terminal broadcast.
type Runner struct {
	cfg       Config
	newClient ClientFactory
	registry  *Registry
	logs      *LogStore
	st        store.Store
	guard     LifecycleGuard
	metrics   *observability.Metrics
	broadcast Broadcaster

	sleep    func(ctx context.Context, d time.Duration) error
	schedule func(d time.Duration, fn func())
}

func NewRunner(cfg Config, newClient ClientFactory, registry *Registry, logs *LogStore, st store.Store, guard LifecycleGuard, metrics *observability.Metrics, broadcast Broadcaster) *Runner {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunking.DefaultMaxChars
	}
	if cfg.InterChunkDelay <= 0 {
		cfg.InterChunkDelay = defaultInterChunkDelay
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.TimeoutRetryWait <= 0 {
		cfg.TimeoutRetryWait = defaultTimeoutRetryWait
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = tts.DefaultVoice
	}
	return &Runner{
		cfg:       cfg,
		newClient: newClient,
		registry:  registry,
		logs:      logs,
		st:        st,
		guard:     guard,
		metrics:   metrics,
		broadcast: broadcast,
		sleep:     sleepCtx,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Generate runs the whole lifecycle for one bookmark id and returns when
// the job reaches a terminal state. The registry entry is released exactly
// once, on that terminal transition.
func (r *Runner) Generate(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("jobId is required")
	}
	if !r.registry.Admit(jobID) {
		return ErrAlreadyActive
	}
	if r.guard != nil {
		r.guard.Start()
	}
	r.metrics.ActiveJobs.Set(float64(r.registry.ActiveCount()))
	defer func() {
		r.registry.Release(jobID)
		r.metrics.ActiveJobs.Set(float64(r.registry.ActiveCount()))
		if r.guard != nil && r.registry.ActiveCount() == 0 {
			r.guard.Stop()
		}
	}()

	start := time.Now()
	displayName := "Unknown"

	doc, err := r.st.LoadDocument(ctx)
	if err != nil {
		r.logTerminal(ctx, jobID, displayName, LogError, err.Error(), nil)
		return err
	}
	bm := doc.Bookmark(jobID)
	if bm == nil {
		r.logTerminal(ctx, jobID, displayName, LogError, "Bookmark not found", nil)
		return ErrNotFound
	}
	if strings.TrimSpace(bm.Title) != "" {
		displayName = bm.Title
	} else {
		displayName = "Untitled"
	}

	text := strings.TrimSpace(bm.ExtractedContent)
	apiKey := strings.TrimSpace(doc.Settings.OpenAIAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.cfg.DefaultAPIKey)
	}
	voice := strings.TrimSpace(doc.Settings.OpenAIVoice)
	if voice == "" || !tts.IsSupportedVoice(voice) {
		voice = r.cfg.DefaultVoice
	}

	r.logTerminal(ctx, jobID, displayName, LogStarted, "Audio generation started", map[string]any{
		"textLength": len(text),
		"voice":      voice,
	})
	r.metrics.JobEvents.WithLabelValues("started").Inc()

	var precondition error
	switch {
	case text == "":
		precondition = chunking.ErrEmptyInput
	case apiKey == "":
		precondition = tts.ErrMissingCredential
	}
	if precondition != nil {
		bm.AudioStatus = ""
		if err := r.st.SaveDocument(ctx, doc); err != nil {
			precondition = fmt.Errorf("%w (state save failed: %v)", precondition, err)
		}
		r.logTerminal(ctx, jobID, displayName, LogError, "Missing content or API key", nil)
		r.metrics.JobEvents.WithLabelValues("failed").Inc()
		return precondition
	}

	bm.AudioStatus = store.AudioStatusGenerating
	bm.AudioError = ""
	bm.AudioErrorAtMS = 0
	if err := r.st.SaveDocument(ctx, doc); err != nil {
		r.logTerminal(ctx, jobID, displayName, LogError, err.Error(), nil)
		r.metrics.JobEvents.WithLabelValues("failed").Inc()
		return err
	}

	// Log cadence: every status that isn't "completed" is logged; completed
	// chunks log only on >=10% advancement, on the final chunk, or always
	// for small jobs.
	// The sink runs on the synthesis goroutine while the deadline branch
	// below reads the counters from this one, so both go through progressMu.
	var progressMu sync.Mutex
	lastLogged := 0
	var chunkMeta struct {
		total     int
		completed int
	}
	sink := func(p Progress) {
		progressMu.Lock()
		defer progressMu.Unlock()
		chunkMeta.total = p.TotalChunks
		chunkMeta.completed = p.CompletedChunks
		shouldLog := p.ProgressPercent-lastLogged >= logEveryPercent ||
			p.Status != "completed" ||
			p.CurrentChunk == p.TotalChunks ||
			p.TotalChunks <= smallJobChunkThreshold
		if !shouldLog {
			return
		}
		msg := p.Message
		if msg == "" {
			msg = fmt.Sprintf("Chunk %d/%d - %d completed (%d%%)", p.CurrentChunk, p.TotalChunks, p.CompletedChunks, p.ProgressPercent)
		}
		_ = r.logs.Append(ctx, store.JobLogEntry{
			JobID:       jobID,
			DisplayName: displayName,
			Status:      LogProgress,
			Message:     msg,
			Details:     progressDetails(p),
		})
		lastLogged = p.ProgressPercent
	}

	client := r.newClient(apiKey)

	// The chunk loop races a wall-clock deadline; whichever finishes first
	// determines the outcome.
	jobCtx, cancelJob := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancelJob()

	type synthResult struct {
		payload store.AudioPayload
		err     error
	}
	resCh := make(chan synthResult, 1)
	go func() {
		payload, err := r.synthesize(jobCtx, client, jobID, text, voice, sink)
		resCh <- synthResult{payload: payload, err: err}
	}()

	var payload store.AudioPayload
	var runErr error
	select {
	case res := <-resCh:
		payload, runErr = res.payload, res.err
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			runErr = ErrJobTimeout
		} else {
			runErr = jobCtx.Err()
		}
	}

	progressMu.Lock()
	totalChunks, completedChunks := chunkMeta.total, chunkMeta.completed
	progressMu.Unlock()

	if runErr == nil {
		_ = r.logs.Append(ctx, store.JobLogEntry{
			JobID:       jobID,
			DisplayName: displayName,
			Status:      LogProgress,
			Message:     fmt.Sprintf("All %d/%d chunks generated, combining and saving...", completedChunks, totalChunks),
			Details: map[string]any{
				"totalChunks":     totalChunks,
				"completedChunks": completedChunks,
			},
		})
		runErr = r.st.SaveAudio(ctx, payload)
	}

	if runErr != nil {
		return r.finishFailure(ctx, jobID, displayName, start, totalChunks, completedChunks, runErr)
	}

	// Reload the document: the synthesis loop held no lock on it and other
	// writers may have advanced it meanwhile.
	doc, err = r.st.LoadDocument(ctx)
	if err == nil {
		if bm := doc.Bookmark(jobID); bm != nil {
			bm.AudioStored = true
			bm.AudioMimeType = payload.MimeType
			bm.AudioDuration = audio.EstimateDurationSeconds(len(payload.Bytes), audio.DefaultBitrateBPS)
			bm.AudioStatus = ""
			bm.AudioError = ""
			bm.AudioErrorAtMS = 0
			err = r.st.SaveDocument(ctx, doc)
		}
	}
	if err != nil {
		return r.finishFailure(ctx, jobID, displayName, start, totalChunks, completedChunks, err)
	}

	duration := time.Since(start).Seconds()
	r.logTerminal(ctx, jobID, displayName, LogSuccess,
		fmt.Sprintf("Audio generation completed successfully in %.1fs - %d/%d chunks", duration, completedChunks, totalChunks),
		map[string]any{
			"duration":        fmt.Sprintf("%.1f", duration),
			"totalChunks":     totalChunks,
			"completedChunks": completedChunks,
			"audioSize":       len(payload.Bytes),
			"audioSizeMB":     fmt.Sprintf("%.2f", float64(len(payload.Bytes))/(1024*1024)),
		})
	r.metrics.JobEvents.WithLabelValues("succeeded").Inc()
	r.notifyReady(jobID)
	return nil
}

// Cancel flags an active job for cancellation. It returns whether an
// active job existed.
func (r *Runner) Cancel(jobID string) bool {
	return r.registry.Cancel(jobID)
}

// synthesize runs the ordered chunk loop: one remote call per chunk, a
// cancellation poll before and after every chunk, and a courtesy delay
// between chunks.
func (r *Runner) synthesize(ctx context.Context, client tts.Client, jobID, text, voice string, sink ProgressSink) (store.AudioPayload, error) {
	chunks, err := chunking.Split(text, r.cfg.MaxChunkChars)
	if err != nil {
		return store.AudioPayload{}, err
	}
	total := len(chunks)
	totalChars := len(text)

	sink(Progress{
		Status:      "starting",
		Message:     fmt.Sprintf("Generating audio for %d chunk(s), total length: %d characters", total, totalChars),
		TotalChunks: total,
		TotalChars:  totalChars,
	})

	buffers := make([][]byte, 0, total)
	totalBytes := 0

	for i, chunk := range chunks {
		current := i + 1

		if r.registry.Cancelled(jobID) {
			sink(Progress{
				Status:          "cancelled",
				TotalChunks:     total,
				CompletedChunks: i,
				CurrentChunk:    current,
				TotalChars:      totalChars,
				ProgressPercent: percent(i, total),
				CancelledAt:     current,
			})
			return store.AudioPayload{}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return store.AudioPayload{}, err
		}

		sink(Progress{
			Status:            "processing",
			Message:           fmt.Sprintf("Processing chunk %d/%d...", current, total),
			TotalChunks:       total,
			CompletedChunks:   i,
			CurrentChunk:      current,
			CurrentChunkChars: len(chunk),
			TotalChars:        totalChars,
			ProgressPercent:   percent(i, total),
		})

		instructions := tts.ContinuationChunkInstructions
		if i == 0 {
			instructions = tts.FirstChunkInstructions
		}

		chunkStart := time.Now()
		data, err := client.Synthesize(ctx, tts.Request{
			Input:        chunk,
			Voice:        voice,
			Instructions: instructions,
		})
		if err == nil && len(data) == 0 {
			err = errors.New("empty audio body received from API")
		}
		if err != nil {
			var httpErr *tts.HTTPError
			if errors.As(err, &httpErr) {
				r.metrics.ProviderErrors.WithLabelValues(fmt.Sprintf("http_%d", httpErr.Status)).Inc()
			}
			sink(Progress{
				Status:          "error",
				TotalChunks:     total,
				CompletedChunks: i,
				CurrentChunk:    current,
				TotalChars:      totalChars,
				ProgressPercent: percent(i, total),
				FailedAt:        current,
				Err:             err.Error(),
			})
			return store.AudioPayload{}, &ChunkError{Chunk: current, Total: total, Err: err}
		}

		chunkSeconds := time.Since(chunkStart).Seconds()
		r.metrics.ChunkSynthesisSeconds.Observe(chunkSeconds)
		buffers = append(buffers, data)
		totalBytes += len(data)
		completed := i + 1

		sink(Progress{
			Status:              "completed",
			Message:             fmt.Sprintf("Chunk %d/%d completed (%d bytes, %.1fs)", current, total, len(data), chunkSeconds),
			TotalChunks:         total,
			CompletedChunks:     completed,
			CurrentChunk:        current,
			CurrentChunkChars:   len(chunk),
			CurrentChunkBytes:   len(data),
			CurrentChunkSeconds: chunkSeconds,
			TotalChars:          totalChars,
			TotalBytesReceived:  totalBytes,
			ProgressPercent:     percent(completed, total),
		})

		if r.registry.Cancelled(jobID) {
			sink(Progress{
				Status:          "cancelled",
				TotalChunks:     total,
				CompletedChunks: completed,
				CurrentChunk:    current,
				TotalChars:      totalChars,
				ProgressPercent: percent(completed, total),
				CancelledAt:     current,
			})
			return store.AudioPayload{}, ErrCancelled
		}

		if i < total-1 {
			if err := r.sleep(ctx, r.cfg.InterChunkDelay); err != nil {
				return store.AudioPayload{}, err
			}
		}
	}

	combined, err := audio.Concat(buffers)
	if err != nil {
		return store.AudioPayload{}, ErrNoChunks
	}
	return store.AudioPayload{JobID: jobID, Bytes: combined, MimeType: tts.MimeType}, nil
}

func (r *Runner) finishFailure(ctx context.Context, jobID, displayName string, start time.Time, totalChunks, completedChunks int, runErr error) error {
	isCancelled := errors.Is(runErr, ErrCancelled)
	isTimeout := errors.Is(runErr, tts.ErrTimeout) || errors.Is(runErr, ErrJobTimeout) || errors.Is(runErr, context.DeadlineExceeded)
	isQuota := store.IsQuotaError(runErr)

	userMessage := runErr.Error()
	if isQuota {
		userMessage = quotaUserMessage
	}

	details := map[string]any{
		"duration":     fmt.Sprintf("%.1f", time.Since(start).Seconds()),
		"isQuotaError": isQuota,
		"isTimeout":    isTimeout,
		"isCancelled":  isCancelled,
	}
	if totalChunks > 0 {
		details["totalChunks"] = totalChunks
		details["completedChunks"] = completedChunks
	}
	var chunkErr *ChunkError
	if errors.As(runErr, &chunkErr) {
		details["failedAtChunk"] = chunkErr.Chunk
		details["totalChunks"] = chunkErr.Total
		details["completedChunks"] = chunkErr.Chunk - 1
	}

	status := LogError
	message := runErr.Error()
	event := "failed"
	if isCancelled {
		status = LogCancelled
		message = "Audio generation cancelled by user"
		event = "cancelled"
	}
	r.logTerminal(ctx, jobID, displayName, status, message, details)
	r.metrics.JobEvents.WithLabelValues(event).Inc()

	// The bookmark must never stay stuck in "generating": record the error
	// state so the UI can offer a retry.
	if doc, err := r.st.LoadDocument(ctx); err == nil {
		if bm := doc.Bookmark(jobID); bm != nil {
			bm.AudioStatus = store.AudioStatusError
			bm.AudioError = userMessage
			bm.AudioErrorAtMS = time.Now().UnixMilli()
			_ = r.st.SaveDocument(ctx, doc)
		}
	}

	if isTimeout && !isCancelled {
		r.scheduleTimeoutRetry(jobID, displayName)
	}

	r.notifyReady(jobID)
	if isQuota {
		return fmt.Errorf("%w: %s", store.ErrQuotaExceeded, quotaUserMessage)
	}
	return runErr
}

// scheduleTimeoutRetry arms a single delayed re-run after a timeout. The
// retry only fires if the job's error state is still present and unchanged
// at that later time, so a job the user already restarted or deleted is
// left alone.
func (r *Runner) scheduleTimeoutRetry(jobID, displayName string) {
	wait := r.cfg.TimeoutRetryWait
	r.schedule(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		doc, err := r.st.LoadDocument(ctx)
		if err != nil {
			return
		}
		bm := doc.Bookmark(jobID)
		if bm == nil || bm.AudioStatus != store.AudioStatusError {
			return
		}
		if time.Now().UnixMilli()-bm.AudioErrorAtMS < wait.Milliseconds() {
			return
		}
		_ = r.logs.Append(ctx, store.JobLogEntry{
			JobID:       jobID,
			DisplayName: displayName,
			Status:      LogProgress,
			Message:     "Auto-reprocessing after timeout...",
		})
		bm.AudioStatus = store.AudioStatusGenerating
		bm.AudioError = ""
		bm.AudioErrorAtMS = 0
		if err := r.st.SaveDocument(ctx, doc); err != nil {
			return
		}
		go func() {
			_ = r.Generate(context.Background(), jobID)
		}()
	})
}

func (r *Runner) notifyReady(jobID string) {
	if r.broadcast == nil {
		return
	}
	r.broadcast.Broadcast(protocol.AudioReady{
		Type:  protocol.TypeAudioReady,
		JobID: jobID,
	})
}

func (r *Runner) logTerminal(ctx context.Context, jobID, displayName, status, message string, details map[string]any) {
	_ = r.logs.Append(ctx, store.JobLogEntry{
		JobID:       jobID,
		DisplayName: displayName,
		Status:      status,
		Message:     message,
		Details:     details,
	})
}

func progressDetails(p Progress) map[string]any {
	details := map[string]any{
		"totalChunks":     p.TotalChunks,
		"completedChunks": p.CompletedChunks,
		"currentChunk":    p.CurrentChunk,
		"progressPercent": p.ProgressPercent,
		"status":          p.Status,
		"totalChars":      p.TotalChars,
	}
	if p.CurrentChunkChars > 0 {
		details["currentChunkChars"] = p.CurrentChunkChars
	}
	if p.CurrentChunkBytes > 0 {
		details["currentChunkSize"] = p.CurrentChunkBytes
	}
	if p.CurrentChunkSeconds > 0 {
		details["currentChunkDuration"] = fmt.Sprintf("%.1f", p.CurrentChunkSeconds)
	}
	if p.TotalBytesReceived > 0 {
		details["totalBytesReceived"] = p.TotalBytesReceived
	}
	if p.CancelledAt > 0 {
		details["cancelledAt"] = p.CancelledAt
	}
	if p.FailedAt > 0 {
		details["failedAt"] = p.FailedAt
	}
	if p.Err != "" {
		details["error"] = p.Err
	}
	return details
}

func percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
