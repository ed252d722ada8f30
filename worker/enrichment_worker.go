package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"leadpixel/models"
	"leadpixel/scoring"
	"leadpixel/store"
	"leadpixel/utils"

	"gorm.io/gorm"
)

const defaultQueueSize = 256

// EnrichmentJob asks for one visitor to be enriched from its last known
// client IP and user agent.
type EnrichmentJob struct {
	VisitorPK uint
	OwnerID   uint
	IPAddress string
	UserAgent string
}

// EnrichmentWorker runs third-party enrichment lookups off the ingestion
// critical path. The job channel is bounded and drained by a fixed goroutine
// pool, so a traffic spike can never fan out into unbounded outbound calls;
// jobs that do not fit are dropped and logged.
type EnrichmentWorker struct {
	DB      *gorm.DB
	Store   *store.VisitorStore
	Client  *utils.EnrichmentClient
	Logger  *log.Logger
	Timeout time.Duration

	jobs    chan EnrichmentJob
	workers int
	wg      sync.WaitGroup
}

func NewEnrichmentWorker(db *gorm.DB, visitorStore *store.VisitorStore, client *utils.EnrichmentClient, logger *log.Logger, workers int) *EnrichmentWorker {
	if workers <= 0 {
		workers = 4
	}
	return &EnrichmentWorker{
		DB:      db,
		Store:   visitorStore,
		Client:  client,
		Logger:  logger,
		Timeout: 15 * time.Second,
		jobs:    make(chan EnrichmentJob, defaultQueueSize),
		workers: workers,
	}
}

func (ew *EnrichmentWorker) Start(ctx context.Context) {
	ew.Logger.Printf("Enrichment worker started (%d workers)", ew.workers)
	for i := 0; i < ew.workers; i++ {
		ew.wg.Add(1)
		go func() {
			defer ew.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-ew.jobs:
					ew.process(ctx, job)
				}
			}
		}()
	}
	<-ctx.Done()
	ew.Logger.Println("Enrichment worker shutting down...")
	ew.wg.Wait()
}

// Enqueue schedules a job without ever blocking the caller. A full queue
// drops the job; the visitor stays un-enriched until a future event retries.
func (ew *EnrichmentWorker) Enqueue(job EnrichmentJob) bool {
	select {
	case ew.jobs <- job:
		return true
	default:
		utils.LogEvent("enrichment_queue_full", map[string]interface{}{
			"visitor_pk": job.VisitorPK,
			"owner_id":   job.OwnerID,
		})
		return false
	}
}

func (ew *EnrichmentWorker) process(ctx context.Context, job EnrichmentJob) {
	lookupCtx, cancel := context.WithTimeout(ctx, ew.Timeout)
	defer cancel()

	profile, err := ew.Client.Lookup(lookupCtx, job.OwnerID, job.IPAddress, job.UserAgent)
	if err != nil {
		utils.LogError("enrichment_lookup_failed", err, map[string]interface{}{
			"visitor_pk": job.VisitorPK,
			"owner_id":   job.OwnerID,
		})
		return
	}

	now := time.Now()
	visitor := &models.Visitor{Model: gorm.Model{ID: job.VisitorPK}}

	attrs := store.IdentityAttrs{
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Company:   profile.Company,
		JobTitle:  profile.JobTitle,
		Phone:     profile.Phone,
		City:      profile.City,
		Region:    profile.Region,
		Country:   profile.Country,
	}
	if err := ew.Store.MergeIdentity(visitor, attrs, now); err != nil {
		utils.LogError("enrichment_merge_failed", err, map[string]interface{}{
			"visitor_pk": job.VisitorPK,
		})
		return
	}
	if err := ew.Store.MarkEnriched(job.VisitorPK, "ip_lookup", profile.Raw, now); err != nil {
		utils.LogError("enrichment_mark_failed", err, map[string]interface{}{
			"visitor_pk": job.VisitorPK,
		})
		return
	}

	// The direct-pixel path never applies score bonuses, and enrichment is
	// triggered from that path, so the recompute stays bonus-free here.
	if _, err := ew.Store.RecomputeScore(job.VisitorPK, scoring.Options{}); err != nil {
		utils.LogError("enrichment_score_failed", err, map[string]interface{}{
			"visitor_pk": job.VisitorPK,
		})
		return
	}

	ew.Logger.Printf("Enriched visitor %d via ip_lookup", job.VisitorPK)
}
