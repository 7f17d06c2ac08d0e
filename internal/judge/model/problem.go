package model

// Reward defaults applied when a problem does not configure its own.
const (
	DefaultCoinReward = 10
	DefaultXPReward   = 20
)

// Problem carries the judging defaults and rewards for one problem.
// Statements, tags and authoring metadata live elsewhere; the judge
// only needs limits and reward amounts.
type Problem struct {
	ID               int64
	TimeLimitSeconds float64
	MemoryLimitMB    int64
	CoinReward       int64
	XPReward         int64
}

// TestCase is one input/expected-output pair.
// Zero limit fields fall back to the problem defaults.
type TestCase struct {
	ID             int64
	ProblemID      int64
	OrderIndex     int
	Input          string
	ExpectedOutput string
	IsHidden       bool

	TimeLimitSeconds float64
	MemoryLimitMB    int64
}
