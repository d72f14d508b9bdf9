package sync

// Strategy is one of the three query strategies a list view can run.
type Strategy int

const (
	// StrategyToday streams today's partition (the default feed).
	StrategyToday Strategy = iota
	// StrategyPrefix one-shot reads today's partition and filters by key or
	// field prefix, then watches each matching key.
	StrategyPrefix
	// StrategyLookup resolves a full-length token to a UHID (via the index
	// collection when configured, linear scan otherwise) and scans every
	// date partition for it.
	StrategyLookup
)

func (s Strategy) String() string {
	switch s {
	case StrategyToday:
		return "today"
	case StrategyPrefix:
		return "prefix"
	case StrategyLookup:
		return "lookup"
	}
	return "unknown"
}

// LoadState tracks whether the bulk/historical strategy has run. Explicit
// state, not an ambient boolean.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "not-loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	}
	return "unknown"
}

// Router picks the strategy for a search token. FullKeyLength is the length
// of a complete UHID; anything shorter is a prefix.
type Router struct {
	FullKeyLength int
}

// Route decides the strategy for token. The empty token is the default feed.
func (r Router) Route(token string) Strategy {
	switch {
	case token == "":
		return StrategyToday
	case len(token) < r.FullKeyLength:
		return StrategyPrefix
	default:
		return StrategyLookup
	}
}
