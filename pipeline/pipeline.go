// Package pipeline implements change detection and the detect-and-commit
// routine shared by the webhook fast path and the full refresh. It is the
// only writer of hash entries, simple keys and stream entries for ERP-driven
// and message families.
package pipeline

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/canonical"
	"edgesync.shamra.dev/stream"
)

// Outcome classifies a proposed value against the stored state.
type Outcome int

const (
	// NoChange: digest and simple key both match; nothing is written.
	NoChange Outcome = iota
	// Create: no hash entry exists yet.
	Create
	// Mismatch: the digest differs from the stored one.
	Mismatch
	// SilentDrift: the digest matches but the simple key was mutated
	// out-of-band (operators sometimes hand-edit it in the store).
	SilentDrift
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no-change"
	case Create:
		return "create"
	case Mismatch:
		return "hash-mismatch"
	case SilentDrift:
		return "silent-drift"
	}
	return "unknown"
}

// Result reports what a commit did.
type Result struct {
	Changed  bool
	Outcome  Outcome
	Version  uint64
	DataHash string
	// StreamID is set only when an entry was appended.
	StreamID string
}

// Committer runs the detect-and-commit pipeline.
type Committer struct {
	cache   *cache.Cache
	streams *stream.Manager
	log     *logrus.Logger
}

// NewCommitter wires the pipeline over the cache layer and stream manager.
func NewCommitter(c *cache.Cache, streams *stream.Manager, log *logrus.Logger) *Committer {
	return &Committer{cache: c, streams: streams, log: log}
}

// Detect classifies a candidate value without writing anything. It also
// returns the candidate's digest and the stored entry (nil on Create).
func (p *Committer) Detect(ctx context.Context, f cache.Family, id string, candidate interface{}) (Outcome, string, *cache.Entry, error) {
	newHash, err := canonical.Hash(candidate)
	if err != nil {
		return NoChange, "", nil, err
	}

	entry, err := p.cache.ReadHash(ctx, f, id)
	if err != nil {
		return NoChange, "", nil, err
	}
	if entry == nil {
		return Create, newHash, nil, nil
	}

	if canonical.Equal(entry.DataHash, newHash) {
		simple, err := p.cache.ReadSimple(ctx, f, id)
		if err != nil {
			return NoChange, "", nil, err
		}
		if simple == nil || !jsonEqual(simple, candidate) {
			return SilentDrift, newHash, entry, nil
		}
		return NoChange, newHash, entry, nil
	}

	return Mismatch, newHash, entry, nil
}

// Commit runs detection and, on any change, bumps the version, writes both
// cache views and appends a stream entry — in that order, so a crash at any
// point is repaired by the next detect pass. NoChange writes nothing and
// appends nothing.
func (p *Committer) Commit(ctx context.Context, f cache.Family, id string, candidate interface{}) (*Result, error) {
	outcome, newHash, entry, err := p.Detect(ctx, f, id, candidate)
	if err != nil {
		return nil, err
	}

	if outcome == NoChange {
		return &Result{
			Changed:  false,
			Outcome:  NoChange,
			Version:  entry.Version,
			DataHash: newHash,
		}, nil
	}

	version, err := p.cache.BumpVersion(ctx, f, id)
	if err != nil {
		return nil, err
	}

	if err := p.cache.WriteBoth(ctx, f, id, candidate, newHash, version); err != nil {
		return nil, err
	}

	streamID, err := p.streams.Append(ctx, f, id, newHash, version)
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"family":    f,
		"entity_id": id,
		"outcome":   outcome.String(),
		"version":   version,
		"stream_id": streamID,
	}).Info("committed change")

	return &Result{
		Changed:  true,
		Outcome:  outcome,
		Version:  version,
		DataHash: newHash,
		StreamID: streamID,
	}, nil
}

// CommitDeletion removes both cache views of a catalog entity and appends a
// deletion marker to its family stream. Message soft-deletes do NOT use
// this: they commit the marker value itself so the tagged hash entry stays
// readable.
func (p *Committer) CommitDeletion(ctx context.Context, f cache.Family, id string) (*Result, error) {
	version, err := p.cache.BumpVersion(ctx, f, id)
	if err != nil {
		return nil, err
	}

	if err := p.cache.DeleteBoth(ctx, f, id); err != nil {
		return nil, err
	}

	markerHash := canonical.DeletionHash(id)
	streamID, err := p.streams.Append(ctx, f, id, markerHash, version)
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"family":    f,
		"entity_id": id,
		"version":   version,
		"stream_id": streamID,
	}).Info("committed deletion")

	return &Result{
		Changed:  true,
		Outcome:  Mismatch,
		Version:  version,
		DataHash: markerHash,
		StreamID: streamID,
	}, nil
}

// jsonEqual compares the stored simple-key JSON against a candidate value by
// decoding both into interface trees.
func jsonEqual(stored json.RawMessage, candidate interface{}) bool {
	var a interface{}
	if err := json.Unmarshal(stored, &a); err != nil {
		return false
	}

	raw, err := json.Marshal(candidate)
	if err != nil {
		return false
	}
	var b interface{}
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}

	return reflect.DeepEqual(a, b)
}
