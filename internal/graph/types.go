package graph

// Outcome is the result of a game from white's point of view.
type Outcome uint8

const (
	Invalid  Outcome = 0 // Result could not be resolved
	WhiteWin Outcome = 1
	Draw     Outcome = 2
	BlackWin Outcome = 3
)

// Valid reports whether o is one of the three game results.
func (o Outcome) Valid() bool {
	return o == WhiteWin || o == Draw || o == BlackWin
}

func (o Outcome) String() string {
	switch o {
	case WhiteWin:
		return "white_win"
	case Draw:
		return "draw"
	case BlackWin:
		return "black_win"
	default:
		return "invalid"
	}
}

// Counts holds per-outcome game counts for one move sequence.
// The total is always derived, never stored.
type Counts struct {
	WhiteWin uint64 `msgpack:"w"`
	Draw     uint64 `msgpack:"d"`
	BlackWin uint64 `msgpack:"b"`
}

// Add increments the counter for o. Invalid outcomes are ignored.
func (c *Counts) Add(o Outcome) {
	switch o {
	case WhiteWin:
		c.WhiteWin++
	case Draw:
		c.Draw++
	case BlackWin:
		c.BlackWin++
	}
}

// Merge adds other's counters into c.
func (c *Counts) Merge(other Counts) {
	c.WhiteWin += other.WhiteWin
	c.Draw += other.Draw
	c.BlackWin += other.BlackWin
}

// Total returns the number of games counted.
func (c Counts) Total() uint64 {
	return c.WhiteWin + c.Draw + c.BlackWin
}

// Rates holds win/draw/loss percentages (0-100) rounded to 2 decimals.
type Rates struct {
	WhiteWin float64
	Draw     float64
	BlackWin float64
}
