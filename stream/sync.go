package stream

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/canonical"
)

// Delta is one packaged change returned to a syncing client: either the
// current value of an entity or a deletion marker.
type Delta struct {
	EntityID string          `json:"entity_id"`
	StreamID string          `json:"stream_id"`
	Version  uint64          `json:"version,omitempty"`
	Deleted  bool            `json:"deleted,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Page is a bounded slice of the filtered change log.
type Page struct {
	Entries      []Delta `json:"entries"`
	NextStreamID string  `json:"next_stream_id"`
	More         bool    `json:"more"`
}

// Syncer serves the delta pull protocol: it replays a family's change log
// from a client cursor and filters out entries the current cache state has
// already superseded, so clients converge without refetching unchanged data.
type Syncer struct {
	streams *Manager
	cache   *cache.Cache
	log     *logrus.Logger
}

// NewSyncer creates a syncer over the stream manager and cache layer.
func NewSyncer(streams *Manager, c *cache.Cache, log *logrus.Logger) *Syncer {
	return &Syncer{streams: streams, cache: c, log: log}
}

// readBatch is how many raw entries are pulled per round while filtering.
// Filtering can drop most of a batch after heavy churn, so the server
// over-reads relative to the client budget.
const readBatch = 64

// Pull reads the family's change log from fromID and packages at most max
// deltas. Every entity with at least one entry past the cursor yields
// exactly one delta reflecting the CURRENT cache state:
//
//   - deletion still in force: emitted as {deleted: true}
//   - entity present: emitted with the current value and version
//   - entity vanished without a marker: dropped, there is no truthful
//     payload to send
//
// Replays, crash-recovery duplicates and racing writers collapse to the net
// state; a fresh client converges in one pass over the log.
func (s *Syncer) Pull(ctx context.Context, f cache.Family, fromID string, max int) (*Page, error) {
	page := &Page{Entries: []Delta{}, NextStreamID: fromID}
	if max <= 0 {
		return page, nil
	}

	cursor := fromID
	seen := map[string]bool{}

	for len(page.Entries) < max {
		entries, err := s.streams.Read(ctx, f, cursor, readBatch)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			if len(page.Entries) == max {
				// Budget exhausted mid-batch: this entry is the first
				// unprocessed one, the client resumes before it.
				page.More = true
				return page, nil
			}

			cursor = e.ID
			page.NextStreamID = e.ID

			if seen[e.EntityID] {
				continue
			}
			seen[e.EntityID] = true

			delta, include, err := s.filter(ctx, f, e)
			if err != nil {
				return nil, err
			}
			if include {
				page.Entries = append(page.Entries, delta)
			}
		}

		if len(entries) < readBatch {
			// Log exhausted.
			return page, nil
		}
	}

	// The budget filled exactly at a batch boundary; peek for a remainder.
	rest, err := s.streams.Read(ctx, f, cursor, 1)
	if err != nil {
		return nil, err
	}
	page.More = len(rest) > 0
	return page, nil
}

func (s *Syncer) filter(ctx context.Context, f cache.Family, e Entry) (Delta, bool, error) {
	entry, err := s.cache.ReadHash(ctx, f, e.EntityID)
	if err != nil {
		return Delta{}, false, err
	}

	deletionHash := canonical.DeletionHash(e.EntityID)
	stillDeleted := entry == nil || canonical.Equal(entry.DataHash, deletionHash)

	if e.DataHash == deletionHash {
		if !stillDeleted {
			// The entity reappeared after the deletion: serve the current
			// value instead of the stale marker.
			return Delta{
				EntityID: e.EntityID,
				StreamID: e.ID,
				Version:  entry.Version,
				Data:     entry.Data,
			}, true, nil
		}
		// Still deleted (hash entry absent or tagged deleted). Clients that
		// never saw the entity need the marker too, so they cannot observe
		// a ghost from an older cursor position.
		return Delta{
			EntityID: e.EntityID,
			StreamID: e.ID,
			Deleted:  true,
		}, true, nil
	}

	if entry == nil {
		// The entity vanished without a deletion marker (pruned or manually
		// removed); there is no truthful payload to send.
		s.log.WithFields(logrus.Fields{
			"family":    f,
			"entity_id": e.EntityID,
			"stream_id": e.ID,
		}).Warn("stream entry references missing cache entry, dropping")
		return Delta{}, false, nil
	}

	if canonical.Equal(entry.DataHash, deletionHash) {
		// The entity was soft-deleted after this entry was written: the
		// marker supersedes the old value.
		return Delta{
			EntityID: e.EntityID,
			StreamID: e.ID,
			Deleted:  true,
		}, true, nil
	}

	return Delta{
		EntityID: e.EntityID,
		StreamID: e.ID,
		Version:  entry.Version,
		Data:     entry.Data,
	}, true, nil
}
