package load

import (
	"time"

	"github.com/freeeve/openingtree/internal/ingest"
	"github.com/freeeve/openingtree/internal/partition"
)

// Summary describes one load. It is stored in the meta collection.
type Summary struct {
	ID              string               `json:"id"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
	Source          string               `json:"source"`
	MaxDepth        int                  `json:"max_depth"`
	Games           ingest.Stats         `json:"games"`
	SnapshotsMerged int                  `json:"snapshots_merged"`
	Nodes           int                  `json:"nodes"`
	RootTotal       uint64               `json:"root_total_games"`
	Documents       map[string]int64     `json:"documents"`
	TruncatedUnits  int                  `json:"truncated_units"`
	FailedIndexes   []string             `json:"failed_indexes"`
	TopFirstMoves   []partition.NextMove `json:"top_first_moves"`
}

// DocumentID implements sink.Document.
func (s *Summary) DocumentID() string { return s.ID }
