package indicator

import (
	"errors"
	"fmt"

	"github.com/newthinker/barsim/internal/core"
)

var (
	// ErrNotReady means the series has not accumulated enough history at the
	// requested index. Callers treat it as "no signal".
	ErrNotReady = errors.New("indicator: value not yet available")
	// ErrOutOfRange means the index is outside the underlying bar series.
	ErrOutOfRange = errors.New("indicator: index out of range")
)

// Series is a numeric sequence aligned 1:1 with bars.
type Series interface {
	Name() string
	Len() int
	// Warmup is the first index with a defined value.
	Warmup() int
	At(i int) (float64, error)
}

// Cursor walks a Series forward and can be rewound.
type Cursor struct {
	series Series
	pos    int
}

// NewCursor returns a cursor positioned before the first bar.
func NewCursor(s Series) *Cursor {
	return &Cursor{series: s, pos: -1}
}

// Next advances to the next index. It returns false at the end of the series.
func (c *Cursor) Next() bool {
	if c.pos+1 >= c.series.Len() {
		return false
	}
	c.pos++
	return true
}

// Index returns the current position, -1 before the first Next.
func (c *Cursor) Index() int { return c.pos }

// Value returns the series value at the current position.
func (c *Cursor) Value() (float64, error) {
	return c.series.At(c.pos)
}

// Seek moves the cursor to index i.
func (c *Cursor) Seek(i int) error {
	if i < -1 || i >= c.series.Len() {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	c.pos = i
	return nil
}

// Reset rewinds the cursor to before the first bar.
func (c *Cursor) Reset() { c.pos = -1 }

func validatePeriod(period int) error {
	if period <= 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("indicator period must be positive, got %d", period))
	}
	return nil
}

func checkIndex(s Series, i int) error {
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, s.Len())
	}
	return nil
}
