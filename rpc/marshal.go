package rpc

import (
	"math/big"

	"github.com/airchains-network/simnode/engine"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// RPCTransaction is the wire form of a mined or pending transaction.
// Pending transactions carry null block fields.
type RPCTransaction struct {
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	From             common.Address  `json:"from"`
	Gas              hexutil.Uint64  `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Hash             common.Hash     `json:"hash"`
	Input            hexutil.Bytes   `json:"input"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	To               *common.Address `json:"to"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	Value            *hexutil.Big    `json:"value"`
	Type             hexutil.Uint64  `json:"type"`
	ChainID          *hexutil.Big    `json:"chainId,omitempty"`
	V                *hexutil.Big    `json:"v,omitempty"`
	R                *hexutil.Big    `json:"r,omitempty"`
	S                *hexutil.Big    `json:"s,omitempty"`
}

func newRPCTransaction(rec *types.TxRecord, pending bool) *RPCTransaction {
	result := &RPCTransaction{
		From:     rec.From,
		Gas:      rec.Gas,
		GasPrice: rec.GasPrice,
		Hash:     rec.Hash,
		Input:    rec.Input,
		Nonce:    rec.Nonce,
		To:       rec.To,
		Value:    rec.Value,
	}
	if !pending {
		blockHash := rec.BlockHash
		index := hexutil.Uint64(rec.Index)
		result.BlockHash = &blockHash
		result.BlockNumber = (*hexutil.Big)(new(big.Int).SetUint64(uint64(rec.BlockNumber)))
		result.TransactionIndex = &index
	}
	if len(rec.Raw) > 0 {
		var tx ethtypes.Transaction
		if err := tx.UnmarshalBinary(rec.Raw); err == nil {
			v, r, s := tx.RawSignatureValues()
			result.Type = hexutil.Uint64(tx.Type())
			result.V, result.R, result.S = (*hexutil.Big)(v), (*hexutil.Big)(r), (*hexutil.Big)(s)
			if id := tx.ChainId(); id.Sign() != 0 {
				result.ChainID = (*hexutil.Big)(id)
			}
		}
	}
	return result
}

// MarshalHeader renders head the way eth_getBlockByNumber and newHeads
// notifications show it.
func MarshalHeader(head *ethtypes.Header) map[string]interface{} {
	return map[string]interface{}{
		"number":           (*hexutil.Big)(head.Number),
		"hash":             head.Hash(),
		"parentHash":       head.ParentHash,
		"nonce":            head.Nonce,
		"mixHash":          head.MixDigest,
		"sha3Uncles":       head.UncleHash,
		"logsBloom":        head.Bloom,
		"stateRoot":        head.Root,
		"miner":            head.Coinbase,
		"difficulty":       (*hexutil.Big)(head.Difficulty),
		"extraData":        hexutil.Bytes(head.Extra),
		"gasLimit":         hexutil.Uint64(head.GasLimit),
		"gasUsed":          hexutil.Uint64(head.GasUsed),
		"timestamp":        hexutil.Uint64(head.Time),
		"transactionsRoot": head.TxHash,
		"receiptsRoot":     head.ReceiptHash,
	}
}

func marshalBlock(block *engine.BlockResult, fullTx bool) map[string]interface{} {
	fields := MarshalHeader(block.Header)
	fields["size"] = hexutil.Uint64(block.Header.Size())
	fields["totalDifficulty"] = (*hexutil.Big)(new(big.Int))

	transactions := make([]interface{}, len(block.Hashes))
	for i, h := range block.Hashes {
		transactions[i] = h
		if fullTx && i < len(block.Transactions) && block.Transactions[i] != nil {
			transactions[i] = newRPCTransaction(block.Transactions[i], false)
		}
	}
	fields["transactions"] = transactions
	fields["uncles"] = []common.Hash{}
	return fields
}

func marshalReceipt(receipt *ethtypes.Receipt, tx *types.TxRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"blockHash":         receipt.BlockHash,
		"blockNumber":       (*hexutil.Big)(receipt.BlockNumber),
		"transactionHash":   receipt.TxHash,
		"transactionIndex":  hexutil.Uint64(receipt.TransactionIndex),
		"gasUsed":           hexutil.Uint64(receipt.GasUsed),
		"cumulativeGasUsed": hexutil.Uint64(receipt.CumulativeGasUsed),
		"contractAddress":   nil,
		"logs":              receipt.Logs,
		"logsBloom":         receipt.Bloom,
		"status":            hexutil.Uint64(receipt.Status),
		"type":              hexutil.Uint(receipt.Type),
		"effectiveGasPrice": (*hexutil.Big)(receipt.EffectiveGasPrice),
	}
	if tx != nil {
		fields["from"] = tx.From
		fields["to"] = tx.To
	}
	if receipt.Logs == nil {
		fields["logs"] = []*ethtypes.Log{}
	}
	if receipt.ContractAddress != (common.Address{}) {
		fields["contractAddress"] = receipt.ContractAddress
	}
	return fields
}
