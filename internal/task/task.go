// Package task defines the labeling task record and its lifecycle helpers.
package task

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/geometry"
)

// Shard partitions the durable store and doubles as the coarse lifecycle
// stage. A task lives in exactly one shard at a time; moving it is a
// delete+insert because the shard is part of the primary key.
type Shard string

const (
	ShardUnlabeled Shard = "unlabeled"
	ShardLabeled   Shard = "labeled"
)

// Shards lists both partitions in lookup order.
var Shards = []Shard{ShardUnlabeled, ShardLabeled}

// ClaimExpiry is how long a claim stays valid without a write. Expiry is
// evaluated lazily at read time; there is no background sweeper.
const ClaimExpiry = 10 * time.Minute

// Task is the unit of labeling work.
type Task struct {
	Shard       Shard
	IdentityKey string

	SourceURI string
	Box       geometry.BoundingBox

	// CropURI is set once the crop has been materialized and never
	// regenerated afterwards.
	CropURI string

	// EmbeddingID references the vector index entry, if the crop has
	// been formally added to the database.
	EmbeddingID string

	// IncomingMetadata and SimilarMetadata hold serialized attribute
	// maps for the crop and its best-matching neighbor.
	IncomingMetadata string
	SimilarMetadata  string
	SimilarURI       string
	SimilarFlag      bool

	Labeled     bool
	Difficult   bool
	LabelerName string
	InProgress  bool

	// UpdatedAt is stored as an RFC 3339 string, the format historical
	// records were written with. Malformed values are tolerated on read.
	UpdatedAt string
}

// Timestamp formats t for the UpdatedAt field.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseUpdatedAt parses a stored timestamp.
func ParseUpdatedAt(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ClaimExpired reports whether an in_progress claim last touched at the
// stored timestamp has lapsed. A malformed timestamp returns an error;
// callers log it and leave the claim untouched.
func ClaimExpired(now time.Time, updatedAt string) (bool, error) {
	ts, err := ParseUpdatedAt(updatedAt)
	if err != nil {
		return false, err
	}
	return now.Sub(ts) > ClaimExpiry, nil
}

// EncodeMetadata serializes an attribute map for storage. Nil maps encode
// to the empty string, matching records that never had metadata.
func EncodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeMetadata parses a stored attribute map. Unparsable payloads are a
// soft corruption: they are logged and treated as absent, never surfaced.
func DecodeMetadata(raw string, logger zerolog.Logger) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		logger.Warn().Str("metadata", raw).Err(err).Msg("Unparsable stored metadata, treating as absent")
		return nil
	}
	return m
}

// Summary is the projection returned by list and next-task responses.
type Summary struct {
	SourceURI   string    `json:"source_uri"`
	BoundingBox []float64 `json:"bounding_box"`
	Labeled     bool      `json:"labeled"`
	Difficult   bool      `json:"difficult"`
	LabelerName string    `json:"labeler_name"`
}

// Summarize projects a task for list responses.
func Summarize(t *Task) Summary {
	return Summary{
		SourceURI:   t.SourceURI,
		BoundingBox: t.Box.Coords(),
		Labeled:     t.Labeled,
		Difficult:   t.Difficult,
		LabelerName: t.LabelerName,
	}
}
