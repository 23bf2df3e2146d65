package source

import (
	"io"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// pgnReader replays each game from the starting position and re-renders
// its moves as SAN, so PGN input yields the same tokens as the text formats.
type pgnReader struct {
	path     string
	maxPlies int
	parser   interface {
		Stop()
		Err() error
	}
	games   <-chan *pgn.Game
	stopped bool
	sb      strings.Builder
}

func newPGNReader(path string, maxPlies int) *pgnReader {
	p := pgn.Games(path)
	return &pgnReader{path: path, maxPlies: maxPlies, parser: p, games: p.Games}
}

func (r *pgnReader) Next() (Record, error) {
	game, ok := <-r.games
	if !ok {
		if err := r.parser.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, io.EOF
	}
	return Record{Result: game.Tags["Result"], Moves: r.render(game.Moves)}, nil
}

func (r *pgnReader) render(moves []pgn.Mv) string {
	if r.maxPlies > 0 && len(moves) > r.maxPlies {
		moves = moves[:r.maxPlies]
	}
	r.sb.Reset()
	pos := pgn.NewStartingPosition()
	for i, mv := range moves {
		san := SAN(pos, mv)
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
		if i > 0 {
			r.sb.WriteByte(' ')
		}
		r.sb.WriteString(san)
	}
	return r.sb.String()
}

func (r *pgnReader) Close() error {
	if !r.stopped {
		r.parser.Stop()
		r.stopped = true
	}
	return nil
}
