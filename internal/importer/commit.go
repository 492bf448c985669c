package importer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

// ErrCommitFailed is matched by every *CommitError.
var ErrCommitFailed = errors.New("bulk commit failed")

// CommitError reports that at least one write of a bulk commit failed.
// The caller is not told which writes succeeded.
type CommitError struct {
	Failed int
	Total  int
	First  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("bulk commit failed: %d of %d writes failed: %v", e.Failed, e.Total, e.First)
}

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

func (e *CommitError) Unwrap() error { return e.First }

// Committer writes classified records to one collection. Writes are
// independent: one failure neither aborts nor rolls back the others.
type Committer struct {
	store       docstore.Store
	collection  string
	concurrency int
	logger      zerolog.Logger
}

// NewCommitter creates a committer. concurrency <= 0 means unbounded.
func NewCommitter(store docstore.Store, collection string, concurrency int, logger zerolog.Logger) *Committer {
	return &Committer{store: store, collection: collection, concurrency: concurrency, logger: logger}
}

// CommitNew creates every record.
func (c *Committer) CommitNew(ctx context.Context, records []*MappedRecord) error {
	return c.fanOut(ctx, len(records), func(ctx context.Context, i int) error {
		_, err := c.store.Create(ctx, c.collection, records[i].Fields)
		return err
	})
}

// CommitDuplicates updates each matched record with the fields its row supplied.
func (c *Committer) CommitDuplicates(ctx context.Context, dups []*Duplicate) error {
	return c.fanOut(ctx, len(dups), func(ctx context.Context, i int) error {
		return c.store.Update(ctx, c.collection, dups[i].ID, dups[i].Patch())
	})
}

// Commit runs both batches concurrently and merges their failures.
func (c *Committer) Commit(ctx context.Context, records []*MappedRecord, dups []*Duplicate) error {
	var newErr, dupErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		newErr = c.CommitNew(ctx, records)
	}()
	dupErr = c.CommitDuplicates(ctx, dups)
	<-done

	switch {
	case newErr == nil:
		return dupErr
	case dupErr == nil:
		return newErr
	}
	a, b := newErr.(*CommitError), dupErr.(*CommitError)
	return &CommitError{Failed: a.Failed + b.Failed, Total: a.Total + b.Total, First: a.First}
}

// fanOut issues n writes without waiting on one another. The request
// context is detached so a client disconnect does not abort in-flight writes.
func (c *Committer) fanOut(ctx context.Context, n int, write func(context.Context, int) error) error {
	if n == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	var failed atomic.Int64
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := write(ctx, i); err != nil {
				failed.Add(1)
				c.logger.Error().Err(err).Str("collection", c.collection).Int("index", i).Msg("bulk write failed")
				return err
			}
			return nil
		})
	}

	if first := g.Wait(); first != nil {
		return &CommitError{Failed: int(failed.Load()), Total: n, First: first}
	}
	return nil
}
