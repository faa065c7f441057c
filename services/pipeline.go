package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rms-pricing-scraper/config"
	"rms-pricing-scraper/models"
	"rms-pricing-scraper/scraper/auth"
	"rms-pricing-scraper/scraper/capture"
	"rms-pricing-scraper/scraper/legacy"
	"rms-pricing-scraper/scraper/portal"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/utils"
)

// BrowserSession is one browser tab used for a whole credential group.
type BrowserSession interface {
	auth.Driver
	Traffic() capture.TrafficLog
	Screenshot(ctx context.Context) ([]byte, error)
	OuterHTML(ctx context.Context, loc portal.Locator) (string, error)
	Close() error
}

// SessionFactory opens a fresh browser session.
type SessionFactory func() (BrowserSession, error)

// PipelineStore is everything the pipeline reads and writes.
type PipelineStore interface {
	PricingStore
	SnapshotStore
	RunStore
	PropertyIDByUUID(ctx context.Context, uuid string) (int64, error)
	TouchPlatform(ctx context.Context, platformID int64) error
}

// PipelineDeps are the collaborators of a Pipeline. Records and Payloads
// may be nil.
type PipelineDeps struct {
	Store    PipelineStore
	Input    auth.InputProvider
	Sessions SessionFactory
	Records  storage.RecordWriter
	Payloads storage.PayloadWriter
}

// Pipeline runs login, capture, mapping and persistence per credential group.
type Pipeline struct {
	cfg     *config.Config
	adapter *portal.Adapter
	deps    PipelineDeps
	logger  *utils.Logger

	mapper   *RecordMapper
	matcher  *HistoricalMatcher
	gateway  *PersistenceGateway
	tracker  *RunTracker
	capturer *capture.Capturer
}

func NewPipeline(cfg *config.Config, adapter *portal.Adapter, deps PipelineDeps, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		adapter:  adapter,
		deps:     deps,
		logger:   logger,
		mapper:   NewRecordMapper(logger),
		matcher:  NewHistoricalMatcher(deps.Store, logger),
		gateway:  NewPersistenceGateway(deps.Store, logger),
		tracker:  NewRunTracker(deps.Store, logger),
		capturer: capture.New(cfg.Timeouts.CapturePoll, logger),
	}
}

// Run processes every platform, at most cfg.MaxSessions at a time. A failed
// group never stops the others.
func (p *Pipeline) Run(ctx context.Context, platforms []*models.Platform, window models.DateRange, mode auth.MFAMode) []*RunOutcome {
	pool := utils.NewWorkerPool(p.cfg.MaxSessions, p.cfg.SessionGapMs)
	outcomes := make([]*RunOutcome, len(platforms))
	var mu sync.Mutex

	for i, pl := range platforms {
		i, pl := i, pl
		pool.Submit(func() {
			out := p.RunPlatform(ctx, pl, window, mode)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
		})
	}
	pool.Wait()
	return outcomes
}

// RunPlatform performs one tracked run for one credential group. The run is
// finalized exactly once whatever happens after it is started.
func (p *Pipeline) RunPlatform(ctx context.Context, pl *models.Platform, window models.DateRange, mode auth.MFAMode) *RunOutcome {
	out := &RunOutcome{PlatformID: pl.ID, PlatformName: pl.Name, Status: models.RunFailed}

	runID, err := p.tracker.Start(ctx, pl.ID, window)
	if err != nil {
		out.Err = fmt.Errorf("start run: %w", err)
		p.logger.Error("[pipeline] %s: %v", pl.Name, out.Err)
		return out
	}
	out.RunID = runID

	failure := p.scrape(ctx, pl, window, mode, out)
	saved := out.Inserted + out.Updated
	if failure == nil && saved == 0 {
		failure = &RunFailure{Reason: "no records saved"}
	}

	// Finalize even if ctx was cancelled mid-run.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	status, msg := models.RunCompleted, ""
	if failure != nil {
		status, msg = models.RunFailed, failure.Error()
		out.Err = failure
	}
	if err := p.tracker.Finish(fctx, runID, status, saved, msg); err != nil {
		p.logger.Error("[pipeline] finish run %d: %v", runID, err)
		if out.Err == nil {
			out.Err = err
		}
		return out
	}
	out.Status = status

	if status == models.RunCompleted {
		if err := p.deps.Store.TouchPlatform(fctx, pl.ID); err != nil {
			p.logger.Warn("[pipeline] %s: update last_scraped_at: %v", pl.Name, err)
		}
	}
	return out
}

func (p *Pipeline) scrape(ctx context.Context, pl *models.Platform, window models.DateRange, mode auth.MFAMode, out *RunOutcome) *RunFailure {
	sess, err := p.deps.Sessions()
	if err != nil {
		return &RunFailure{Reason: "browser start failed", Err: err}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("[pipeline] close browser: %v", err)
		}
	}()

	t := p.cfg.Timeouts
	authenticator := auth.New(p.adapter, sess, p.deps.Input, auth.Timeouts{
		Step:       t.Step,
		MFA:        t.MFA,
		Login:      t.Login,
		Ready:      t.Ready,
		HumanInput: t.HumanInput,
		Poll:       t.ElementPoll,
	}, p.logger)

	hint := pl.Config.LastFourDigits
	if hint == "" {
		hint = pl.Config.FactorHint
	}
	_, err = authenticator.Authenticate(ctx, auth.Credentials{
		Username:   pl.Username,
		Password:   pl.Password,
		FactorHint: hint,
	}, mode)
	if err != nil {
		p.screenshot(ctx, sess, "auth", pl)
		return &RunFailure{Reason: "authentication failed", Err: err}
	}

	known := make(map[string]int64, len(pl.Properties))
	for _, prop := range pl.Properties {
		known[normaliseUUID(prop.UUID)] = prop.ID
	}

	// Portals without a per-property calendar load every property's prices
	// in one call right after login.
	targets := []models.PropertyIdentity{{}}
	if p.adapter.CalendarPath != "" {
		targets = pl.Properties
	}

	var captureErrs []string
	for _, target := range targets {
		if err := p.captureTarget(ctx, sess, pl, target, window, known, out); err != nil {
			label := target.HotelName
			if label == "" {
				label = pl.Name
			}
			captureErrs = append(captureErrs, fmt.Sprintf("%s: %v", label, err))
		}
	}

	if len(captureErrs) > 0 && out.Inserted+out.Updated == 0 {
		return &RunFailure{Reason: strings.Join(captureErrs, "; ")}
	}
	for _, e := range captureErrs {
		p.logger.Warn("[pipeline] %s: %s", pl.Name, e)
	}
	return nil
}

// captureTarget loads one calendar (or the landing page when target is
// empty), captures its payload and persists the records.
func (p *Pipeline) captureTarget(ctx context.Context, sess BrowserSession, pl *models.Platform, target models.PropertyIdentity,
	window models.DateRange, known map[string]int64, out *RunOutcome) error {
	crit := capture.Criteria{URL: p.adapter.MatchesPricingURL}
	if url := p.adapter.CalendarURL(target.UUID); target.UUID != "" && url != "" {
		// Responses still arriving from the previous calendar belong to
		// another property.
		if stale := sess.Traffic().Completed(); len(stale) > 0 {
			p.logger.Debug("[pipeline] Dropped %d responses before opening %s", len(stale), target.HotelName)
		}
		p.logger.Info("[pipeline] Opening calendar of %s", target.HotelName)
		if err := sess.Navigate(ctx, url); err != nil {
			return fmt.Errorf("open calendar: %w", err)
		}
		crit.Accept = payloadFor(target.UUID)
	}
	if err := sleepCtx(ctx, p.cfg.Timeouts.CaptureDelay); err != nil {
		return err
	}

	res, err := p.capturer.Capture(ctx, sess.Traffic(), crit, p.cfg.Timeouts.CaptureWait)
	if err != nil {
		return err
	}
	if res == nil {
		p.screenshot(ctx, sess, "capture", pl)
		if p.cfg.LegacyTableFallback {
			return p.legacyFallback(ctx, sess, pl, target, window, out)
		}
		return capture.ErrCaptureTimeout
	}

	if p.deps.Payloads != nil {
		if err := p.deps.Payloads.WritePayload(res.Body); err != nil {
			p.logger.Warn("[pipeline] save payload: %v", err)
		}
	}

	runID := out.RunID
	p.persist(ctx, p.mapPayload(ctx, res.Payload, &runID, known, &window, out), out)
	return nil
}

func (p *Pipeline) legacyFallback(ctx context.Context, sess BrowserSession, pl *models.Platform, target models.PropertyIdentity,
	window models.DateRange, out *RunOutcome) error {
	prop := target
	if prop.UUID == "" {
		if len(pl.Properties) != 1 {
			return fmt.Errorf("%w; table fallback needs a single property, group has %d",
				capture.ErrCaptureTimeout, len(pl.Properties))
		}
		prop = pl.Properties[0]
	}
	p.logger.Warn("[pipeline] No payload for %s, reading the calendar table", prop.HotelName)

	var html string
	var err error
	for _, loc := range p.adapter.LegacyTable {
		if html, err = sess.OuterHTML(ctx, loc); err == nil {
			break
		}
	}
	if html == "" {
		return fmt.Errorf("%w; calendar table not found: %v", capture.ErrCaptureTimeout, err)
	}

	rows, skipped, err := legacy.Parse(html)
	if err != nil {
		return fmt.Errorf("%w; %v", capture.ErrCaptureTimeout, err)
	}
	out.MappingSkips += len(skipped)

	runID := out.RunID
	var records []*models.PricingRecord
	for _, row := range rows {
		r := p.mapper.MapLegacy(prop.UUID, row)
		if !window.Contains(r.RecordDate) {
			out.OutOfRange++
			continue
		}
		r.PropertyID = prop.ID
		r.RunID = &runID
		p.enrich(ctx, r)
		records = append(records, r)
	}
	p.persist(ctx, records, out)
	return nil
}

// ImportPayload replays a saved payload without a tracked run.
func (p *Pipeline) ImportPayload(ctx context.Context, payload models.Payload) *RunOutcome {
	out := &RunOutcome{PlatformName: "import", Status: models.RunCompleted}
	p.persist(ctx, p.mapPayload(ctx, payload, nil, nil, nil, out), out)
	if out.Inserted+out.Updated == 0 {
		out.Status = models.RunFailed
		out.Err = &RunFailure{Reason: "no records saved"}
	}
	return out
}

// mapPayload turns every entry into an enriched record. Entries that fail to
// map, fall outside window, or belong to unknown properties are counted and
// skipped.
func (p *Pipeline) mapPayload(ctx context.Context, payload models.Payload, runID *int64, known map[string]int64,
	window *models.DateRange, out *RunOutcome) []*models.PricingRecord {
	var records []*models.PricingRecord
	for _, prop := range payload {
		id := normaliseUUID(prop.ID)
		propertyID, ok := known[id]
		if !ok {
			var err error
			propertyID, err = p.deps.Store.PropertyIDByUUID(ctx, id)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					p.logger.Error("[pipeline] resolve property %s: %v", prop.ID, err)
				} else {
					p.logger.Warn("[pipeline] Property %s is not registered, skipping %d dates", prop.ID, len(prop.Dates))
				}
				out.UnknownProperty += len(prop.Dates)
				continue
			}
		}

		for _, entry := range prop.Dates {
			r, err := p.mapper.MapRaw(id, entry)
			if err != nil {
				p.logger.Warn("[pipeline] Skipping entry: %v", err)
				out.MappingSkips++
				continue
			}
			if window != nil && !window.Contains(r.RecordDate) {
				out.OutOfRange++
				continue
			}
			r.PropertyID = propertyID
			r.RunID = runID
			p.enrich(ctx, r)
			records = append(records, r)
		}
	}
	return records
}

func (p *Pipeline) enrich(ctx context.Context, r *models.PricingRecord) {
	if _, err := p.matcher.Enrich(ctx, r); err != nil {
		p.logger.Warn("[pipeline] last-year lookup for %s: %v", r.DateKey(), err)
	}
}

func (p *Pipeline) persist(ctx context.Context, records []*models.PricingRecord, out *RunOutcome) {
	if len(records) == 0 {
		return
	}
	res := p.gateway.SaveBatch(ctx, records)
	out.Inserted += res.Inserted
	out.Updated += res.Updated
	out.PersistFailures += res.Failed
	out.Records = append(out.Records, res.Saved...)

	if p.deps.Records != nil && len(res.Saved) > 0 {
		if err := p.deps.Records.WriteRecords(res.Saved); err != nil {
			p.logger.Warn("[pipeline] CSV backup: %v", err)
		}
	}
}

func (p *Pipeline) screenshot(ctx context.Context, sess BrowserSession, stage string, pl *models.Platform) {
	if p.cfg.DiagnosticsDir == "" {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	shot, err := sess.Screenshot(sctx)
	if err != nil {
		p.logger.Warn("[pipeline] screenshot: %v", err)
		return
	}
	if err := os.MkdirAll(p.cfg.DiagnosticsDir, 0755); err != nil {
		p.logger.Warn("[pipeline] diagnostics dir: %v", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%d_%s.png", p.adapter.Name, stage, pl.ID, time.Now().Format("20060102_150405"))
	path := filepath.Join(p.cfg.DiagnosticsDir, name)
	if err := os.WriteFile(path, shot, 0644); err != nil {
		p.logger.Warn("[pipeline] write screenshot: %v", err)
		return
	}
	p.logger.Info("[pipeline] Screenshot saved to %s", path)
}

// payloadFor accepts only payloads carrying an object for propertyUUID.
func payloadFor(propertyUUID string) func(models.Payload) bool {
	want := normaliseUUID(propertyUUID)
	return func(payload models.Payload) bool {
		for _, prop := range payload {
			if normaliseUUID(prop.ID) == want {
				return true
			}
		}
		return false
	}
}

// normaliseUUID lower-cases valid UUIDs so lookups ignore formatting.
func normaliseUUID(s string) string {
	s = strings.TrimSpace(s)
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
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
