package yahoo

import "time"

// Quote is a near-real-time snapshot of one instrument.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	QuoteType     string    `json:"quote_type,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Exchange      string    `json:"exchange,omitempty"`
	MarketState   string    `json:"market_state,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	PreviousClose float64   `json:"previous_close,omitempty"`
	Open          float64   `json:"open,omitempty"`
	DayHigh       float64   `json:"day_high,omitempty"`
	DayLow        float64   `json:"day_low,omitempty"`
	Volume        int64     `json:"volume,omitempty"`
	MarketCap     float64   `json:"market_cap,omitempty"`
	Time          time.Time `json:"time"`
}

// Bar is one OHLCV candle. Prices the upstream left null are zero.
type Bar struct {
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close,omitempty"`
	Volume   int64     `json:"volume"`
}

type History struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency,omitempty"`
	Interval string `json:"interval"`
	Timezone string `json:"timezone,omitempty"`
	Bars     []Bar  `json:"bars"`
}

type Dividend struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

type Split struct {
	Date        time.Time `json:"date"`
	Numerator   float64   `json:"numerator"`
	Denominator float64   `json:"denominator"`
	Ratio       string    `json:"ratio"`
}

// Actions are the corporate actions of one symbol, oldest first.
type Actions struct {
	Symbol    string     `json:"symbol"`
	Dividends []Dividend `json:"dividends"`
	Splits    []Split    `json:"splits"`
}

type OptionContract struct {
	ContractSymbol    string    `json:"contract_symbol"`
	Strike            float64   `json:"strike"`
	Currency          string    `json:"currency,omitempty"`
	LastPrice         float64   `json:"last_price"`
	Change            float64   `json:"change"`
	PercentChange     float64   `json:"percent_change"`
	Volume            int64     `json:"volume"`
	OpenInterest      int64     `json:"open_interest"`
	Bid               float64   `json:"bid"`
	Ask               float64   `json:"ask"`
	ImpliedVolatility float64   `json:"implied_volatility"`
	InTheMoney        bool      `json:"in_the_money"`
	Expiration        time.Time `json:"expiration"`
	LastTrade         time.Time `json:"last_trade"`
}

// OptionChain holds the calls and puts of one expiry plus the list of all expiries.
type OptionChain struct {
	Symbol      string           `json:"symbol"`
	Expiry      time.Time        `json:"expiry"`
	Expirations []time.Time      `json:"expirations"`
	Strikes     []float64        `json:"strikes"`
	Calls       []OptionContract `json:"calls"`
	Puts        []OptionContract `json:"puts"`
}

type Screen struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Total       int     `json:"total"`
	Quotes      []Quote `json:"quotes"`
}

// Match is one search hit.
type Match struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	QuoteType string `json:"quote_type,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Industry  string `json:"industry,omitempty"`
}

// Identifier links an ISIN to its primary listing.
type Identifier struct {
	ISIN     string `json:"isin"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

type Profile struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
	Sector    string  `json:"sector,omitempty"`
	Industry  string  `json:"industry,omitempty"`
	Country   string  `json:"country,omitempty"`
	Website   string  `json:"website,omitempty"`
	Employees int64   `json:"employees,omitempty"`
	Summary   string  `json:"summary,omitempty"`
	MarketCap float64 `json:"market_cap,omitempty"`
}
