package domain

// EventKind tags the variant of a ChainEvent.
type EventKind string

const (
	KindNewToken   EventKind = "NEW_TOKEN"
	KindTrade      EventKind = "TRADE"
	KindGraduation EventKind = "GRADUATION"
	KindUpdate     EventKind = "UPDATE"
)

// Side is the direction of a trade relative to the token.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ChainEvent is a classified on-chain occurrence. The set of variants is
// closed: NewTokenEvent, TradeEvent, GraduationEvent and UpdateEvent.
// Events are values and are not modified after construction.
type ChainEvent interface {
	Kind() EventKind
	TokenMint() string
	chainEvent()
}

// NewTokenEvent is emitted when a token is created on the launch venue.
type NewTokenEvent struct {
	Mint         string
	Name         *string
	Symbol       *string
	Creator      string
	Signature    string
	Timestamp    int64 // Unix ms
	Source       Source
	BondingCurve *string
}

// TradeEvent is a single buy or sell of a token.
type TradeEvent struct {
	Mint         string
	Signature    string
	Timestamp    int64 // Unix ms
	Trader       string
	Side         Side
	AmountSol    float64
	AmountTokens float64
	Price        *float64 // SOL per token
	Source       Source
}

// GraduationEvent marks migration of a token from its bonding curve to an AMM pool.
type GraduationEvent struct {
	Mint      string
	Signature string
	Timestamp int64 // Unix ms
	Pool      *string
	Liquidity *float64
	Source    Source
}

// UpdateEvent carries market-state changes observed outside of trades.
type UpdateEvent struct {
	Mint      string
	MarketCap *float64
	Liquidity *float64
	Holders   *int64
	Price     *float64
}

func (NewTokenEvent) Kind() EventKind   { return KindNewToken }
func (TradeEvent) Kind() EventKind      { return KindTrade }
func (GraduationEvent) Kind() EventKind { return KindGraduation }
func (UpdateEvent) Kind() EventKind     { return KindUpdate }

func (e NewTokenEvent) TokenMint() string   { return e.Mint }
func (e TradeEvent) TokenMint() string      { return e.Mint }
func (e GraduationEvent) TokenMint() string { return e.Mint }
func (e UpdateEvent) TokenMint() string     { return e.Mint }

func (NewTokenEvent) chainEvent()   {}
func (TradeEvent) chainEvent()      {}
func (GraduationEvent) chainEvent() {}
func (UpdateEvent) chainEvent()     {}
