package yahoo

import "marketdata/internal/provider/pipeline"

// Services bundles every Yahoo domain service over one pipeline and client.
type Services struct {
	Quotes   *QuoteService
	History  *HistoryService
	Actions  *CorporateActionsService
	Options  *OptionsService
	Screener *ScreenerService
	Lookup   *LookupService
	Profile  *ProfileService
}

func NewServices(p pipeline.Pipeline, c *Client) *Services {
	return &Services{
		Quotes:   NewQuoteService(p, c),
		History:  NewHistoryService(p, c),
		Actions:  NewCorporateActionsService(p, c),
		Options:  NewOptionsService(p, c),
		Screener: NewScreenerService(p, c),
		Lookup:   NewLookupService(p, c),
		Profile:  NewProfileService(p, c),
	}
}
