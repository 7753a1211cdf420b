package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"reflect"
	"time"

	"reparts/api/internal/metrics"
	"reparts/api/internal/store"
)

// OutboxStore is the slice of the primary store the sync worker needs.
type OutboxStore interface {
	GetListing(ctx context.Context, listingID string) (store.Listing, error)
	ListListings(ctx context.Context, filter store.ListingFilter) ([]store.Listing, error)
	PendingIndexOps(ctx context.Context, limit, maxAttempts int) ([]store.IndexOp, error)
	AckIndexOps(ctx context.Context, listingID string, upTo int64) error
	FailIndexOp(ctx context.Context, opID int64, reason string) error
	PendingIndexOpCount(ctx context.Context) (int, error)
}

type SyncOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// IndexSync keeps the search index in line with the listings table. Writes
// are attempted in-line after each mutation; whatever fails stays in the
// outbox and is retried by Run.
type IndexSync struct {
	store   OutboxStore
	indexer Indexer
	opts    SyncOptions
}

func NewIndexSync(outbox OutboxStore, indexer Indexer, opts SyncOptions) *IndexSync {
	if indexer == nil {
		indexer = NopIndexer{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &IndexSync{store: outbox, indexer: indexer, opts: opts}
}

// Upsert pushes rec to the index and acknowledges outbox ops for the listing
// up to opID. A failure is logged and left for the drain worker.
func (s *IndexSync) Upsert(ctx context.Context, rec ListingRecord, opID int64) error {
	if err := s.indexer.IndexListing(rec); err != nil {
		metrics.IndexSyncOps.WithLabelValues(store.IndexOpUpsert, "error").Inc()
		log.Printf("search: index listing %s: %v", rec.ID, err)
		return fmt.Errorf("index listing %s: %w", rec.ID, err)
	}
	metrics.IndexSyncOps.WithLabelValues(store.IndexOpUpsert, "ok").Inc()
	return s.ack(ctx, rec.ID, opID)
}

// Remove deletes the listing from the index and acknowledges outbox ops up to
// opID.
func (s *IndexSync) Remove(ctx context.Context, listingID string, opID int64) error {
	if err := s.indexer.DeleteListing(listingID); err != nil {
		metrics.IndexSyncOps.WithLabelValues(store.IndexOpRemove, "error").Inc()
		log.Printf("search: remove listing %s: %v", listingID, err)
		return fmt.Errorf("remove listing %s: %w", listingID, err)
	}
	metrics.IndexSyncOps.WithLabelValues(store.IndexOpRemove, "ok").Inc()
	return s.ack(ctx, listingID, opID)
}

func (s *IndexSync) ack(ctx context.Context, listingID string, opID int64) error {
	if opID <= 0 {
		return nil
	}
	if err := s.store.AckIndexOps(ctx, listingID, opID); err != nil {
		log.Printf("search: ack index ops for %s: %v", listingID, err)
		return err
	}
	return nil
}

// Run drains the outbox every Interval until ctx is cancelled.
func (s *IndexSync) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("search: drain outbox: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DrainOnce applies one batch of pending ops. Ops for the same listing
// collapse into one write of the listing's current state, so replays are
// harmless. It returns the number of listings synced.
func (s *IndexSync) DrainOnce(ctx context.Context) (int, error) {
	if !s.indexer.Healthy() {
		s.refreshPending(ctx)
		return 0, nil
	}
	ops, err := s.store.PendingIndexOps(ctx, s.opts.BatchSize, s.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}

	type pending struct {
		listingID string
		upTo      int64
		opIDs     []int64
	}
	var order []*pending
	byListing := make(map[string]*pending)
	for _, op := range ops {
		p, ok := byListing[op.ListingID]
		if !ok {
			p = &pending{listingID: op.ListingID}
			byListing[op.ListingID] = p
			order = append(order, p)
		}
		if op.ID > p.upTo {
			p.upTo = op.ID
		}
		p.opIDs = append(p.opIDs, op.ID)
	}

	synced := 0
	for _, p := range order {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		err := s.syncCurrent(ctx, p.listingID, p.upTo)
		if err == nil {
			synced++
			continue
		}
		for _, id := range p.opIDs {
			if failErr := s.store.FailIndexOp(ctx, id, err.Error()); failErr != nil {
				log.Printf("search: record index op %d failure: %v", id, failErr)
			}
		}
	}
	s.refreshPending(ctx)
	return synced, nil
}

const maxSyncPasses = 3

// syncCurrent writes the listing's current state and acks ops up to upTo. The
// row is read again after the write; if a concurrent mutation changed it, the
// newer state is written before acking so the index never keeps an older
// snapshot with nothing left pending.
func (s *IndexSync) syncCurrent(ctx context.Context, listingID string, upTo int64) error {
	rec, found, err := s.loadRecord(ctx, listingID)
	if err != nil {
		return err
	}
	for pass := 0; pass < maxSyncPasses; pass++ {
		if !found {
			if err := s.indexer.DeleteListing(listingID); err != nil {
				metrics.IndexSyncOps.WithLabelValues(store.IndexOpRemove, "error").Inc()
				return fmt.Errorf("remove listing %s: %w", listingID, err)
			}
			metrics.IndexSyncOps.WithLabelValues(store.IndexOpRemove, "ok").Inc()
		} else {
			if err := s.indexer.IndexListing(rec); err != nil {
				metrics.IndexSyncOps.WithLabelValues(store.IndexOpUpsert, "error").Inc()
				return fmt.Errorf("index listing %s: %w", listingID, err)
			}
			metrics.IndexSyncOps.WithLabelValues(store.IndexOpUpsert, "ok").Inc()
		}

		latest, stillFound, err := s.loadRecord(ctx, listingID)
		if err != nil {
			return err
		}
		if stillFound == found && (!found || reflect.DeepEqual(latest, rec)) {
			return s.ack(ctx, listingID, upTo)
		}
		rec, found = latest, stillFound
	}
	return fmt.Errorf("listing %s kept changing during sync", listingID)
}

func (s *IndexSync) loadRecord(ctx context.Context, listingID string) (ListingRecord, bool, error) {
	item, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return ListingRecord{}, false, nil
	}
	if err != nil {
		return ListingRecord{}, false, fmt.Errorf("load listing %s: %w", listingID, err)
	}
	return RecordFromListing(item), true, nil
}

func (s *IndexSync) refreshPending(ctx context.Context) {
	count, err := s.store.PendingIndexOpCount(ctx)
	if err != nil {
		log.Printf("search: count pending index ops: %v", err)
		return
	}
	metrics.IndexOutboxPending.Set(float64(count))
}

const reindexBatch = 500

// Reindex pushes every stored listing to the index. Outbox ops already
// pending are left for the drain worker.
func (s *IndexSync) Reindex(ctx context.Context) (int, error) {
	items, err := s.store.ListListings(ctx, store.ListingFilter{})
	if err != nil {
		return 0, err
	}
	recs := make([]ListingRecord, 0, len(items))
	for _, item := range items {
		recs = append(recs, RecordFromListing(item))
	}
	for start := 0; start < len(recs); start += reindexBatch {
		end := min(start+reindexBatch, len(recs))
		if err := s.indexer.IndexListings(recs[start:end]); err != nil {
			metrics.IndexSyncOps.WithLabelValues("reindex", "error").Inc()
			return start, fmt.Errorf("reindex listings: %w", err)
		}
	}
	metrics.IndexSyncOps.WithLabelValues("reindex", "ok").Inc()
	log.Printf("search: reindexed %d listings", len(recs))
	return len(recs), nil
}
