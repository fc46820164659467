package provider

import "time"

// Key scopes rate-limiter and auth state to one upstream service.
type Key string

const (
	Yahoo Key = "YAHOO"
	FRED  Key = "FRED"
)

func (k Key) String() string { return string(k) }

// TTLs per data category. Chosen by the consuming service, never by the cache.
const (
	TTLQuote        = 60 * time.Second
	TTLBars         = 5 * time.Minute
	TTLOptions      = 5 * time.Minute
	TTLScreener     = 5 * time.Minute
	TTLReference    = 24 * time.Hour      // profile, lookup, corporate actions
	TTLISIN         = 30 * 24 * time.Hour // identifiers almost never change
	TTLMacroSeries  = 24 * time.Hour
	TTLMacroObserve = time.Hour
)
