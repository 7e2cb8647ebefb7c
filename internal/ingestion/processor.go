package ingestion

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"halog/internal/database/models"
	"halog/internal/database/repositories"
	"halog/internal/enrichment"
	parsers "halog/internal/parser"
	"halog/internal/parser/haproxy"

	"github.com/pterm/pterm"
)

// SourceProcessor tails a single log source, parses new lines and writes the
// resulting sessions to the database in batches.
type SourceProcessor struct {
	source       *models.LogSource
	parser       parsers.LogParser
	reader       *IncrementalReader
	sessionRepo  repositories.SessionRepository
	sourceRepo   repositories.LogSourceRepository
	geoIP        *enrichment.GeoIPEnricher
	logger       *pterm.Logger
	batchSize    int
	workers      int
	batchTimeout time.Duration
	pollInterval time.Duration
	wake         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	paused       bool
	pausedMu     sync.Mutex
	// Statistics
	totalStored  int64
	totalSkipped int64
	totalErrors  int64
	startTime    time.Time
	statsMu      sync.Mutex
}

// ProcessorStats is a snapshot of a processor's counters.
type ProcessorStats struct {
	SourceName   string  `json:"source_name"`
	Path         string  `json:"path"`
	TotalStored  int64   `json:"total_stored"`
	TotalSkipped int64   `json:"total_skipped"`
	TotalErrors  int64   `json:"total_errors"`
	RatePerSec   float64 `json:"rate_per_sec"`
	Position     int64   `json:"position"`
	Paused       bool    `json:"paused"`
}

// NewSourceProcessor creates a processor resuming from the source's tracked
// read position.
func NewSourceProcessor(
	source *models.LogSource,
	parser parsers.LogParser,
	sessionRepo repositories.SessionRepository,
	sourceRepo repositories.LogSourceRepository,
	geoIP *enrichment.GeoIPEnricher,
	logger *pterm.Logger,
	batchSize int,
	workers int,
) *SourceProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	if batchSize <= 0 {
		batchSize = 1000
	}
	if workers <= 0 {
		workers = 4
	}

	reader := NewIncrementalReader(
		source.Path,
		source.LastPosition,
		source.LastInode,
		source.LastLineContent,
		logger,
	)

	return &SourceProcessor{
		source:       source,
		parser:       parser,
		reader:       reader,
		sessionRepo:  sessionRepo,
		sourceRepo:   sourceRepo,
		geoIP:        geoIP,
		logger:       logger,
		batchSize:    batchSize,
		workers:      workers,
		batchTimeout: 2 * time.Second,
		pollInterval: 1 * time.Second,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}
}

// Start begins processing logs from the source
func (sp *SourceProcessor) Start() {
	sp.wg.Add(1)
	go sp.processLoop()
	sp.logger.Info("Started source processor",
		sp.logger.Args("source", sp.source.Name, "path", sp.source.Path, "position", sp.reader.Position()))
}

// Stop gracefully stops the processor
func (sp *SourceProcessor) Stop() {
	sp.logger.Debug("Stopping source processor", sp.logger.Args("source", sp.source.Name))
	sp.cancel()
	sp.wg.Wait()
	sp.logger.Info("Stopped source processor", sp.logger.Args("source", sp.source.Name))
}

// Pause suspends reading without losing the tracked position.
func (sp *SourceProcessor) Pause() {
	sp.pausedMu.Lock()
	sp.paused = true
	sp.pausedMu.Unlock()
	sp.logger.Debug("Paused source processor", sp.logger.Args("source", sp.source.Name))
}

// Resume restarts a paused processor.
func (sp *SourceProcessor) Resume() {
	sp.pausedMu.Lock()
	sp.paused = false
	sp.pausedMu.Unlock()
	sp.Wake()
	sp.logger.Debug("Resumed source processor", sp.logger.Args("source", sp.source.Name))
}

func (sp *SourceProcessor) isPaused() bool {
	sp.pausedMu.Lock()
	defer sp.pausedMu.Unlock()
	return sp.paused
}

// Wake asks the processor to poll its file immediately instead of waiting for
// the next tick. Used by the file watcher on write events.
func (sp *SourceProcessor) Wake() {
	select {
	case sp.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the processor's counters.
func (sp *SourceProcessor) Stats() ProcessorStats {
	sp.statsMu.Lock()
	stored := sp.totalStored
	skipped := sp.totalSkipped
	errors := sp.totalErrors
	sp.statsMu.Unlock()

	elapsed := time.Since(sp.startTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(stored) / elapsed
	}

	return ProcessorStats{
		SourceName:   sp.source.Name,
		Path:         sp.source.Path,
		TotalStored:  stored,
		TotalSkipped: skipped,
		TotalErrors:  errors,
		RatePerSec:   rate,
		Position:     sp.reader.Position(),
		Paused:       sp.isPaused(),
	}
}

// processLoop is the main processing loop
func (sp *SourceProcessor) processLoop() {
	defer sp.wg.Done()

	batch := []*models.Session{}
	ticker := time.NewTicker(sp.pollInterval)
	defer ticker.Stop()

	flushTimer := time.NewTimer(sp.batchTimeout)
	defer flushTimer.Stop()

	for {
		select {
		case <-sp.ctx.Done():
			// Flush remaining batch before exit
			if len(batch) > 0 {
				sp.logger.Debug("Flushing remaining batch on shutdown",
					sp.logger.Args("source", sp.source.Name, "count", len(batch)))
				sp.flushBatch(batch)
			}
			return

		case <-flushTimer.C:
			// Timeout: flush batch even if not full
			if len(batch) > 0 {
				sp.logger.Trace("Batch timeout reached, flushing",
					sp.logger.Args("source", sp.source.Name, "count", len(batch)))
				sp.flushBatch(batch)
				batch = []*models.Session{}
			}
			flushTimer.Reset(sp.batchTimeout)

		case <-ticker.C:
			batch = sp.poll(batch, flushTimer)

		case <-sp.wake:
			batch = sp.poll(batch, flushTimer)
		}
	}
}

// poll reads newly appended lines and folds the parsed sessions into the
// current batch, flushing when the batch fills up.
func (sp *SourceProcessor) poll(batch []*models.Session, flushTimer *time.Timer) []*models.Session {
	if sp.isPaused() {
		return batch
	}

	lines, newPos, newInode, newLastLine, err := sp.reader.ReadBatch(sp.batchSize - len(batch))
	if err != nil {
		sp.logger.WithCaller().Error("Failed to read from log file",
			sp.logger.Args("source", sp.source.Name, "error", err))
		return batch
	}

	if len(lines) == 0 {
		return batch
	}

	sp.logger.Trace("Read new log lines",
		sp.logger.Args("source", sp.source.Name, "count", len(lines)))

	// Parse lines in parallel
	sessions := sp.parseAndEnrichParallel(lines)
	batch = append(batch, sessions...)

	// Flush if batch is full
	if len(batch) >= sp.batchSize {
		sp.logger.Trace("Batch full, flushing",
			sp.logger.Args("source", sp.source.Name, "count", len(batch)))
		sp.flushBatch(batch)
		batch = []*models.Session{}
		flushTimer.Reset(sp.batchTimeout)
	}

	// Update source tracking
	if err := sp.sourceRepo.UpdateTracking(sp.source.Name, newPos, newInode, newLastLine); err != nil {
		sp.logger.WithCaller().Error("Failed to update source tracking",
			sp.logger.Args("source", sp.source.Name, "error", err))
	} else {
		sp.logger.Trace("Updated source tracking",
			sp.logger.Args("source", sp.source.Name, "position", newPos))
	}

	return batch
}

// parseAndEnrichParallel processes lines in parallel using a worker pool
func (sp *SourceProcessor) parseAndEnrichParallel(lines []string) []*models.Session {
	if len(lines) == 0 {
		return nil
	}

	numWorkers := sp.workers
	if numWorkers > len(lines) {
		numWorkers = len(lines)
	}

	jobs := make(chan string, len(lines))
	results := make(chan *models.Session, len(lines))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range jobs {
				session := sp.processLine(line)
				if session != nil {
					results <- session
				}
			}
		}()
	}

	for _, line := range lines {
		jobs <- line
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	sessions := make([]*models.Session, 0, len(lines))
	for session := range results {
		sessions = append(sessions, session)
	}

	return sessions
}

// processLine parses and enriches a single line. Lines the grammar rejects
// are counted and dropped, not stored.
func (sp *SourceProcessor) processLine(line string) *models.Session {
	event, err := sp.parser.Parse(line)
	if err != nil {
		sp.logger.Warn("Failed to parse log line",
			sp.logger.Args("source", sp.source.Name, "error", err, "line_preview", truncate(line, 100)))
		sp.countSkipped()
		return nil
	}

	record, ok := event.(*haproxy.LogRecord)
	if !ok {
		sp.logger.WithCaller().Warn("Unexpected event type from parser",
			sp.logger.Args("source", sp.source.Name, "parser", sp.parser.Name()))
		sp.countSkipped()
		return nil
	}

	if !record.Valid {
		sp.logger.Trace("Skipping unparseable line",
			sp.logger.Args("source", sp.source.Name, "line_preview", truncate(line, 100)))
		sp.countSkipped()
		return nil
	}

	session := sp.convertToSession(record)

	if sp.geoIP != nil {
		if err := sp.geoIP.Enrich(session); err != nil {
			sp.logger.Debug("GeoIP enrichment failed",
				sp.logger.Args("ip", session.ResolvedIP, "error", err))
		}
	}

	return session
}

// convertToSession flattens a parsed record into its storage row.
func (sp *SourceProcessor) convertToSession(record *haproxy.LogRecord) *models.Session {
	session := &models.Session{
		SourceName:          sp.source.Name,
		LogType:             record.Kind.String(),
		AcceptTime:          record.AcceptTime,
		ClientIP:            record.ClientIP,
		ClientPort:          record.ClientPort,
		ResolvedIP:          record.ResolvedIP(),
		FrontendName:        record.FrontendName,
		BackendName:         record.BackendName,
		ServerName:          record.ServerName,
		ConnectionsActive:   record.ConnectionsActive,
		ConnectionsFrontend: record.ConnectionsFrontend,
		ConnectionsBackend:  record.ConnectionsBackend,
		ConnectionsServer:   record.ConnectionsServer,
		Retries:             record.Retries,
		QueueServer:         record.QueueServer,
		QueueBackend:        record.QueueBackend,
	}

	switch {
	case record.HTTP != nil:
		h := record.HTTP
		session.TimeWaitRequest = h.TimeWaitRequest
		session.TimeWaitQueue = h.TimeWaitQueue
		session.TimeConnectServer = h.TimeConnectServer
		session.TimeWaitResponse = h.TimeWaitResponse
		session.TotalTime = h.TotalTime
		session.StatusCode = h.StatusCode
		session.BytesRead = parseBytes(h.BytesRead)
		session.HTTPS = record.IsHTTPS()
		if h.Request != nil {
			session.Method = h.Request.Method
			session.Path = h.Request.Path
			session.Protocol = h.Request.Protocol
		}
		if h.CapturedRequestHeaders != nil {
			session.CapturedRequestHeaders = *h.CapturedRequestHeaders
		}
		if h.CapturedResponseHeaders != nil {
			session.CapturedResponseHeaders = *h.CapturedResponseHeaders
		}

	case record.TCP != nil:
		t := record.TCP
		session.TimeWaitQueue = t.TimeWaitQueue
		session.TimeConnectServer = t.TimeConnectServer
		session.TotalTime = t.TotalTime
		session.BytesRead = parseBytes(t.BytesRead)
	}

	return session
}

// flushBatch inserts the batch into the database
func (sp *SourceProcessor) flushBatch(batch []*models.Session) {
	if len(batch) == 0 {
		return
	}

	startTime := time.Now()

	if err := sp.sessionRepo.CreateBatch(batch); err != nil {
		sp.logger.WithCaller().Error("Failed to insert batch into database",
			sp.logger.Args(
				"source", sp.source.Name,
				"count", len(batch),
				"error", err,
			))
		sp.statsMu.Lock()
		sp.totalErrors += int64(len(batch))
		sp.statsMu.Unlock()
		return
	}

	sp.statsMu.Lock()
	sp.totalStored += int64(len(batch))
	totalStored := sp.totalStored
	sp.statsMu.Unlock()

	duration := time.Since(startTime)
	elapsed := time.Since(sp.startTime)
	rate := float64(totalStored) / elapsed.Seconds()

	sp.logger.Info("Batch processed successfully",
		sp.logger.Args(
			"source", sp.source.Name,
			"batch_count", len(batch),
			"batch_duration_ms", duration.Milliseconds(),
			"total_stored", totalStored,
			"rate_per_sec", int(rate),
			"elapsed", elapsed.Round(time.Second).String(),
		))
}

func (sp *SourceProcessor) countSkipped() {
	sp.statsMu.Lock()
	sp.totalSkipped++
	sp.statsMu.Unlock()
}

// parseBytes converts the raw byte counter to a number for aggregation. The
// logging format allows a "+" prefix when the count was capped by option
// logasap.
func parseBytes(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimPrefix(raw, "+"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// truncate truncates a string to maxLen characters for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
