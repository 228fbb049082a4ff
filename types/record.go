package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// TxRecord is the stored form of a mined transaction. Records written before
// signatures were kept carry no "signed" field and decode as impersonated.
type TxRecord struct {
	Hash        common.Hash     `json:"hash"`
	Signed      *bool           `json:"signed,omitempty"`
	Raw         hexutil.Bytes   `json:"raw,omitempty"`
	From        common.Address  `json:"from"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Gas         hexutil.Uint64  `json:"gas"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Input       hexutil.Bytes   `json:"input"`
	BlockHash   common.Hash     `json:"blockHash"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	Index       hexutil.Uint    `json:"transactionIndex"`
}

// NewTxRecord captures tx as included at index of the given block.
func NewTxRecord(tx *Transaction, blockHash common.Hash, blockNumber uint64, index int) (*TxRecord, error) {
	signed := tx.Kind() == Signed
	rec := &TxRecord{
		Hash:        tx.Hash(),
		Signed:      &signed,
		From:        tx.From(),
		Nonce:       hexutil.Uint64(tx.Nonce()),
		To:          tx.To(),
		Value:       (*hexutil.Big)(tx.Value()),
		Gas:         hexutil.Uint64(tx.Gas()),
		GasPrice:    (*hexutil.Big)(tx.GasPrice()),
		Input:       tx.Data(),
		BlockHash:   blockHash,
		BlockNumber: hexutil.Uint64(blockNumber),
		Index:       hexutil.Uint(index),
	}
	if signed {
		raw, err := tx.Raw()
		if err != nil {
			return nil, err
		}
		rec.Raw = raw
	}
	return rec, nil
}

// Transaction rebuilds the tagged transaction the record describes.
func (r *TxRecord) Transaction(signer ethtypes.Signer) (*Transaction, error) {
	if r.Signed == nil || !*r.Signed {
		return NewImpersonated(r.From, uint64(r.Nonce), r.To, r.Value.ToInt(), uint64(r.Gas), r.GasPrice.ToInt(), r.Input), nil
	}
	inner := new(ethtypes.Transaction)
	if err := inner.UnmarshalBinary(r.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction %s: %w", r.Hash.Hex(), err)
	}
	return NewSigned(inner, signer)
}
