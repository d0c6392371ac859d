package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the feed depends on.
type RPCClient interface {
	// GetTransaction retrieves a parsed transaction by signature.
	// Returns nil, nil when the transaction is not (yet) available.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetAccountInfo retrieves raw account data. Returns nil, nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	LogMessages       []string
	PreBalances       []uint64 // lamports, indexed like AccountKeys
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	// InnerTransfers holds system-program transfers found in inner instructions.
	InnerTransfers []NativeTransfer
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
	// Transfers holds top-level system-program transfers.
	Transfers []NativeTransfer
}

// FeePayer returns the first account key, or "" when unknown.
func (tx *Transaction) FeePayer() string {
	if tx == nil || tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0]
}

// NativeTransfers returns every system transfer in the transaction, top-level first.
func (tx *Transaction) NativeTransfers() []NativeTransfer {
	if tx == nil {
		return nil
	}
	var out []NativeTransfer
	if tx.Message != nil {
		out = append(out, tx.Message.Transfers...)
	}
	if tx.Meta != nil {
		out = append(out, tx.Meta.InnerTransfers...)
	}
	return out
}
