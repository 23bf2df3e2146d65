// Package eco names openings (Encyclopedia of Chess Openings) for SAN move
// sequences.
package eco

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/freeeve/pgn/v3"
)

// Opening is one ECO classification.
type Opening struct {
	ECO   string `json:"eco"`
	Name  string `json:"name"`
	Plies int    `json:"plies"`
}

// Database maps final positions to openings, so a transposed move order
// still finds its name. Name results are memoized per sequence.
type Database struct {
	byPosition map[pgn.PackedPosition]Opening

	mu    sync.Mutex
	memo  map[string]*Opening
	count int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[pgn.PackedPosition]Opening),
		memo:       make(map[string]*Opening),
	}
}

// moveNumbers matches "1." and "12..." prefixes.
var moveNumbers = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads every .tsv file in dir.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}
	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads one tab-separated file with eco, name and pgn columns.
// Rows with fewer columns or moves that do not replay are skipped.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	db.mu.Lock()
	defer db.mu.Unlock()
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) < 3 || (row == 1 && rec[0] == "eco") {
			continue
		}

		moves := strings.Fields(moveNumbers.ReplaceAllString(rec[2], ""))
		pos, ok := play(moves)
		if !ok {
			continue
		}
		db.byPosition[pos.Pack()] = Opening{ECO: rec[0], Name: rec[1], Plies: len(moves)}
		db.count++
	}
	clear(db.memo)
	return nil
}

// play replays SAN moves from the starting position. ok is false when any
// move fails to parse or apply.
func play(moves []string) (*pgn.GameState, bool) {
	pos := pgn.NewStartingPosition()
	for _, san := range moves {
		if !step(pos, san) {
			return pos, false
		}
	}
	return pos, true
}

func step(pos *pgn.GameState, san string) bool {
	san = strings.TrimRight(san, "+#!?")
	if san == "" {
		return false
	}
	mv, err := pgn.ParseSAN(pos, san)
	if err != nil {
		return false
	}
	return pgn.ApplyMove(pos, mv) == nil
}

// Lookup returns the opening for a position, or nil.
func (db *Database) Lookup(pos pgn.PackedPosition) *Opening {
	db.mu.Lock()
	defer db.mu.Unlock()
	if o, ok := db.byPosition[pos]; ok {
		return &o
	}
	return nil
}

// Name returns the opening of the deepest prefix of moves with an ECO entry.
// Replay stops at the first move that is not legal SAN.
func (db *Database) Name(moves []string) (string, string, bool) {
	key := strings.Join(moves, " ")

	db.mu.Lock()
	defer db.mu.Unlock()
	best, seen := db.memo[key]
	if !seen {
		pos := pgn.NewStartingPosition()
		for _, san := range moves {
			if !step(pos, san) {
				break
			}
			if o, ok := db.byPosition[pos.Pack()]; ok {
				best = &o
			}
		}
		db.memo[key] = best
	}
	if best == nil {
		return "", "", false
	}
	return best.ECO, best.Name, true
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.count
}
