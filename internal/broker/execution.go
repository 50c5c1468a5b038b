package broker

import (
	"fmt"
	"strings"
)

// FillPolicy determines at which price an accepted order executes.
type FillPolicy string

const (
	// FillSameBar executes at the close of the bar the order was submitted on.
	FillSameBar FillPolicy = "same-bar"
	// FillNextBarOpen keeps the order pending and executes it at the next bar's open.
	FillNextBarOpen FillPolicy = "next-bar-open"
)

// ParseFillPolicy converts a configuration string into a FillPolicy.
// An empty string selects FillSameBar.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch FillPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FillSameBar:
		return FillSameBar, nil
	case FillNextBarOpen:
		return FillNextBarOpen, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFillPolicy, s)
	}
}

// Config holds simulated account settings.
type Config struct {
	// InitialCash is the starting cash balance.
	InitialCash float64
	// CommissionRate is charged as rate * fill price * size on every fill.
	CommissionRate float64
	// FillPolicy selects same-bar close or next-bar open execution.
	FillPolicy FillPolicy
}

// DefaultConfig returns 100k cash, 0.1% commission and same-bar fills.
func DefaultConfig() Config {
	return Config{
		InitialCash:    100000,
		CommissionRate: 0.001,
		FillPolicy:     FillSameBar,
	}
}

// Validate checks the account settings.
func (c Config) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive, got %v", c.InitialCash)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("commission_rate cannot be negative, got %v", c.CommissionRate)
	}
	if _, err := ParseFillPolicy(string(c.FillPolicy)); err != nil {
		return err
	}
	return nil
}
