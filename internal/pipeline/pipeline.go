// Package pipeline orchestrates enrichment end to end: duplicate check,
// source discovery, page fetches across providers, claim extraction,
// conflict resolution, the quality gate, and the publish / retry /
// review decision.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-enricher/internal/consensus"
	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/extract"
	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/quality"
	"github.com/sells-group/catalog-enricher/internal/resilience"
	"github.com/sells-group/catalog-enricher/internal/retrysched"
	"github.com/sells-group/catalog-enricher/internal/review"
	"github.com/sells-group/catalog-enricher/internal/store"
	"github.com/sells-group/catalog-enricher/pkg/firecrawl"
	"github.com/sells-group/catalog-enricher/pkg/jina"
)

// Provider names used as scheduler registry keys.
const (
	ProviderJina      = "jina"
	ProviderFirecrawl = "firecrawl"
	ProviderAnthropic = "anthropic"
)

// Config tunes the orchestration, not the individual providers.
type Config struct {
	// MaxPages bounds how many discovered URLs are fetched per item.
	// Default: 3.
	MaxPages int

	// RequiredFields feed review entries for items that miss them.
	RequiredFields []string

	// ReviewBacklogAlert raises a review_backlog alert once the queue
	// reaches this many entries. 0 disables the alert.
	ReviewBacklogAlert int
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 3
	}
	if len(c.RequiredFields) == 0 {
		c.RequiredFields = review.RequiredFields
	}
	return c
}

// Deps collects everything the enricher orchestrates.
type Deps struct {
	Store     store.Store
	Registry  *resilience.Registry
	Jina      jina.Client
	Firecrawl firecrawl.Client
	Extractor *extract.Extractor
	Matcher   *dedupe.Matcher
	Gate      *quality.Gate
	Reviews   *review.Queue
	Retry     retrysched.Policy
	Alerts    *Alerts
}

// Enricher drives candidate items through the pipeline.
type Enricher struct {
	cfg       Config
	store     store.Store
	registry  *resilience.Registry
	jina      jina.Client
	firecrawl firecrawl.Client
	extractor *extract.Extractor
	matcher   *dedupe.Matcher
	gate      *quality.Gate
	reviews   *review.Queue
	retry     retrysched.Policy
	alerts    *Alerts
}

// NewEnricher wires the pipeline. The registry must already hold
// schedulers for the jina, firecrawl, and anthropic providers.
func NewEnricher(cfg Config, deps Deps) *Enricher {
	return &Enricher{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		registry:  deps.Registry,
		jina:      deps.Jina,
		firecrawl: deps.Firecrawl,
		extractor: deps.Extractor,
		matcher:   deps.Matcher,
		gate:      deps.Gate,
		reviews:   deps.Reviews,
		retry:     deps.Retry,
		alerts:    deps.Alerts,
	}
}

// page is a fetched document plus where it came from.
type page struct {
	url     string
	content string
}

// EnrichItem runs one item through the full pipeline and persists the
// outcome. The returned error covers infrastructure failures only;
// enrichment failures land on the item as classified records.
func (e *Enricher) EnrichItem(ctx context.Context, item *model.CandidateItem, prio model.Priority) error {
	log := zap.L().With(zap.String("item_id", item.ID), zap.String("identifier", item.Identifier))

	item.Status = model.ItemStatusEnriching
	if err := e.store.UpsertItem(ctx, item); err != nil {
		return eris.Wrap(err, "pipeline: mark enriching")
	}

	if handled, err := e.checkDuplicate(ctx, item, prio, log); handled || err != nil {
		return err
	}

	pages := e.collectPages(ctx, item, prio, log)
	if len(pages) == 0 {
		item.RecordError(faults.ReasonProviderError, "no source pages could be fetched", "fetch")
		return e.handleFailure(ctx, item, prio, log)
	}

	claims := e.extractAll(ctx, item, prio, pages, log)
	if len(claims) == 0 {
		item.RecordError(faults.ReasonMissingField, "no claims extracted from fetched pages", "extract")
		return e.handleFailure(ctx, item, prio, log)
	}

	if err := e.store.SaveClaims(ctx, item.ID, claims); err != nil {
		return eris.Wrap(err, "pipeline: save claims")
	}

	byField := make(map[string][]model.Claim)
	for _, c := range claims {
		byField[c.Field] = append(byField[c.Field], c)
	}

	merged := consensus.Merge(item.ID, item.Identifier, byField)
	report := e.gate.Evaluate(merged)

	if !report.Valid {
		e.recordGateFailure(item, merged, report)
		return e.handleFailure(ctx, item, prio, log)
	}

	return e.publish(ctx, item, merged, report, log)
}

// checkDuplicate consults the known-identifier index before any provider
// call is spent. Exact matches are linked and closed; fuzzy matches go to
// a human.
func (e *Enricher) checkDuplicate(ctx context.Context, item *model.CandidateItem, prio model.Priority, log *zap.Logger) (bool, error) {
	m := e.matcher.CheckItem(item)
	if m == nil {
		return false, nil
	}

	switch m.Type {
	case dedupe.MatchExact:
		item.RecordError(faults.ReasonDuplicateItem,
			fmt.Sprintf("identifier %q already cataloged as item %s", m.Identifier, m.ItemID), "dedupe")
		log.Info("duplicate item linked", zap.String("existing_item", m.ItemID))
		return true, e.store.SaveOutcome(ctx, item, model.ItemStatusFailed, string(faults.ReasonDuplicateItem))
	default:
		item.RecordError(faults.ReasonDuplicateItem,
			fmt.Sprintf("identifier resembles %q (item %s, distance %d)", m.Identifier, m.ItemID, m.Distance), "dedupe")
		log.Info("possible duplicate escalated", zap.String("existing_item", m.ItemID), zap.Int("distance", m.Distance))
		return true, e.escalate(ctx, item, prio)
	}
}

// collectPages discovers source URLs and fetches them, spreading fetches
// across the read providers. Fetch failures are recorded on the item but
// only a total miss is fatal.
func (e *Enricher) collectPages(ctx context.Context, item *model.CandidateItem, prio model.Priority, log *zap.Logger) []page {
	urls := e.discover(ctx, item, prio, log)
	if len(urls) == 0 {
		return nil
	}
	if len(urls) > e.cfg.MaxPages {
		urls = urls[:e.cfg.MaxPages]
	}

	var (
		mu    sync.Mutex
		pages []page
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			var (
				content string
				err     error
			)
			// Alternate read providers so one throttled service does
			// not stall the whole fetch.
			if i%2 == 0 {
				content, err = e.fetchJina(gctx, prio, u)
			} else {
				content, err = e.fetchFirecrawl(gctx, prio, u)
			}
			if err != nil {
				mu.Lock()
				item.RecordError(resilience.ReasonForError(err, 0), err.Error(), "fetch")
				mu.Unlock()
				log.Warn("page fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			pages = append(pages, page{url: u, content: content})
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return pages
}

// discover searches for spec pages for the item's identifier.
func (e *Enricher) discover(ctx context.Context, item *model.CandidateItem, prio model.Priority, log *zap.Logger) []string {
	out := e.schedule(ctx, ProviderJina, "search", prio, func(ctx context.Context) (any, error) {
		return e.jina.Search(ctx, item.Identifier+" specifications")
	})
	if !out.Success {
		item.RecordError(faults.Reason(out.Reason), out.Error, "discover")
		return nil
	}

	resp := out.Payload.(*jina.SearchResponse)
	urls := make([]string, 0, len(resp.Data))
	for _, r := range resp.Data {
		urls = append(urls, r.URL)
	}
	log.Debug("sources discovered", zap.Int("count", len(urls)))
	return urls
}

func (e *Enricher) fetchJina(ctx context.Context, prio model.Priority, url string) (string, error) {
	out := e.schedule(ctx, ProviderJina, "read", prio, func(ctx context.Context) (any, error) {
		return e.jina.Read(ctx, url)
	})
	if !out.Success {
		return "", outcomeError(out)
	}
	return out.Payload.(*jina.ReadResponse).Data.Content, nil
}

func (e *Enricher) fetchFirecrawl(ctx context.Context, prio model.Priority, url string) (string, error) {
	out := e.schedule(ctx, ProviderFirecrawl, "scrape", prio, func(ctx context.Context) (any, error) {
		return e.firecrawl.Scrape(ctx, firecrawl.ScrapeRequest{URL: url, Formats: []string{"markdown"}})
	})
	if !out.Success {
		return "", outcomeError(out)
	}
	return out.Payload.(*firecrawl.ScrapeResponse).Data.Markdown, nil
}

// extractAll runs claim extraction per page through the anthropic
// scheduler. Pages that fail extraction are skipped with a record.
func (e *Enricher) extractAll(ctx context.Context, item *model.CandidateItem, prio model.Priority, pages []page, log *zap.Logger) []model.Claim {
	var claims []model.Claim
	for _, p := range pages {
		out := e.schedule(ctx, ProviderAnthropic, "extract", prio, func(ctx context.Context) (any, error) {
			return e.extractor.ExtractClaims(ctx, item.Identifier, extract.Page{URL: p.url, Content: p.content})
		})
		if !out.Success {
			item.RecordError(faults.Reason(out.Reason), out.Error, "extract")
			log.Warn("extraction failed", zap.String("url", p.url), zap.String("reason", out.Reason))
			continue
		}
		if pageClaims, ok := out.Payload.([]model.Claim); ok {
			claims = append(claims, pageClaims...)
		}
	}
	return claims
}

// schedule submits one call to the named provider's scheduler and
// normalizes registry misses and stop races into failure outcomes.
func (e *Enricher) schedule(ctx context.Context, provider, operation string, prio model.Priority, op resilience.Operation) *model.CallOutcome {
	sched := e.registry.Get(provider)
	if sched == nil {
		return &model.CallOutcome{
			Error:  fmt.Sprintf("provider %s is not registered", provider),
			Reason: string(faults.ReasonConfigMissing),
		}
	}

	out, err := sched.Schedule(ctx, model.RequestContext{
		Provider:  provider,
		Operation: operation,
		Priority:  prio,
		Retryable: true,
		Cost:      1,
	}, op)
	if err != nil {
		return &model.CallOutcome{
			Error:  err.Error(),
			Reason: string(resilience.ReasonForError(err, 0)),
		}
	}
	return out
}

func outcomeError(out *model.CallOutcome) error {
	return faults.Wrap(faults.Reason(out.Reason), eris.New(out.Error))
}

// recordGateFailure converts a failing quality report into classified
// records on the item.
func (e *Enricher) recordGateFailure(item *model.CandidateItem, merged *model.MergedRecord, report *quality.Report) {
	var failed []string
	for _, s := range report.Stages {
		if !s.Passed && !s.Advisory {
			failed = append(failed, s.Name)
		}
	}
	item.RecordError(faults.ReasonValidationFailed,
		fmt.Sprintf("quality gate rejected record (score %d): %v", report.Score, failed), "quality")

	if len(merged.OpenFields) > 0 {
		item.RecordError(faults.ReasonConflictUnresolved,
			fmt.Sprintf("unresolved field conflicts: %v", merged.OpenFields), "consensus")
	}
}

// publish promotes a validated record: fields land on the item, the
// identifier joins the duplicate index, any review entry is cleared.
func (e *Enricher) publish(ctx context.Context, item *model.CandidateItem, merged *model.MergedRecord, report *quality.Report, log *zap.Logger) error {
	for field, fv := range merged.Fields {
		item.Fields[field] = fv.Value
	}

	if err := e.store.AddIdentifier(ctx, item.ID, item.Identifier); err != nil {
		return eris.Wrap(err, "pipeline: register identifier")
	}
	e.matcher.Add(item.ID, item.Identifier)

	if e.reviews.Remove(item.ID) {
		if err := e.store.DeleteReviewEntry(ctx, item.ID); err != nil {
			return eris.Wrap(err, "pipeline: clear review entry")
		}
	}

	if err := e.store.SaveOutcome(ctx, item, model.ItemStatusPublished, ""); err != nil {
		return eris.Wrap(err, "pipeline: publish")
	}

	log.Info("item published",
		zap.Int("quality_score", report.Score),
		zap.Int("fields", len(merged.Fields)),
		zap.Strings("open_fields", merged.OpenFields))
	return nil
}

// handleFailure decides between another automatic attempt and human
// review. Critical records always escalate.
func (e *Enricher) handleFailure(ctx context.Context, item *model.CandidateItem, prio model.Priority, log *zap.Logger) error {
	if !item.HasCritical() && e.retry.ShouldRetry(item) {
		e.retry.ScheduleRetry(item, time.Now().UTC())
		if err := e.store.UpsertItem(ctx, item); err != nil {
			return eris.Wrap(err, "pipeline: schedule retry")
		}
		log.Info("retry scheduled",
			zap.Int("attempts", item.Attempts),
			zap.Timep("next_retry_at", item.NextRetryAt))
		return nil
	}
	return e.escalate(ctx, item, prio)
}

// escalate moves the item to the manual review queue.
func (e *Enricher) escalate(ctx context.Context, item *model.CandidateItem, prio model.Priority) error {
	entry := e.reviews.Add(item, prio, e.cfg.RequiredFields)
	if err := e.store.UpsertReviewEntry(ctx, entry); err != nil {
		return eris.Wrap(err, "pipeline: persist review entry")
	}
	if err := e.store.SaveOutcome(ctx, item, model.ItemStatusNeedsReview, lastReason(item)); err != nil {
		return eris.Wrap(err, "pipeline: mark needs_review")
	}

	if e.alerts != nil && e.cfg.ReviewBacklogAlert > 0 && e.reviews.Len() >= e.cfg.ReviewBacklogAlert {
		e.alerts.ReviewBacklog(ctx, e.reviews.Len())
	}
	return nil
}

func lastReason(item *model.CandidateItem) string {
	if len(item.Errors) == 0 {
		return ""
	}
	return string(item.Errors[len(item.Errors)-1].Reason)
}
