package domain

// TxDetail is the subset of a transaction the pipeline needs to turn a
// classified candidate into a typed event. Every field is optional.
type TxDetail struct {
	Signature    string
	Mint         *string
	TokenAmount  *float64
	SolAmount    *float64
	Creator      *string // fee payer
	Trader       *string
	Name         *string
	Symbol       *string
	BondingCurve *string
	Side         *Side
	Timestamp    *int64 // Unix ms
}
