package source

import (
	"github.com/freeeve/pgn/v3"
)

const (
	files = "abcdefgh"
	ranks = "12345678"

	flagEnPassant = 2
	flagCastle    = 4
)

func upper(p byte) byte {
	if p >= 'a' && p <= 'z' {
		return p - 'a' + 'A'
	}
	return p
}

// SAN renders mv in standard algebraic notation for position pos, including
// disambiguation and the check/mate suffix. pos is not modified.
func SAN(pos *pgn.GameState, mv pgn.Mv) string {
	buf := make([]byte, 0, 8)

	if mv.Flags == flagCastle {
		if mv.To > mv.From {
			buf = append(buf, "O-O"...)
		} else {
			buf = append(buf, "O-O-O"...)
		}
		return string(appendCheck(buf, pos, mv))
	}

	from, to := int(mv.From), int(mv.To)
	piece := upper(byte(pos.PieceAt(mv.From)))
	capture := pos.PieceAt(mv.To) != 0

	if piece == 'P' {
		capture = capture || mv.Flags == flagEnPassant
		if capture {
			buf = append(buf, files[from%8], 'x')
		}
		buf = append(buf, files[to%8], ranks[to/8])
		switch mv.Promo {
		case pgn.PromoQueen:
			buf = append(buf, "=Q"...)
		case pgn.PromoRook:
			buf = append(buf, "=R"...)
		case pgn.PromoBishop:
			buf = append(buf, "=B"...)
		case pgn.PromoKnight:
			buf = append(buf, "=N"...)
		}
		return string(appendCheck(buf, pos, mv))
	}

	buf = append(buf, piece)

	// Another piece of the same kind reaching the same square needs a file,
	// a rank, or both.
	sameFile, sameRank, ambiguous := false, false, false
	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From {
			continue
		}
		if upper(byte(pos.PieceAt(other.From))) != piece {
			continue
		}
		ambiguous = true
		if int(other.From)%8 == from%8 {
			sameFile = true
		}
		if int(other.From)/8 == from/8 {
			sameRank = true
		}
	}
	if ambiguous {
		switch {
		case !sameFile:
			buf = append(buf, files[from%8])
		case !sameRank:
			buf = append(buf, ranks[from/8])
		default:
			buf = append(buf, files[from%8], ranks[from/8])
		}
	}

	if capture {
		buf = append(buf, 'x')
	}
	buf = append(buf, files[to%8], ranks[to/8])
	return string(appendCheck(buf, pos, mv))
}

func appendCheck(buf []byte, pos *pgn.GameState, mv pgn.Mv) []byte {
	next := pos.Pack().Unpack()
	if next == nil {
		return buf
	}
	if err := pgn.ApplyMove(next, mv); err != nil || !next.IsInCheck() {
		return buf
	}
	if len(pgn.GenerateLegalMoves(next)) == 0 {
		return append(buf, '#')
	}
	return append(buf, '+')
}
