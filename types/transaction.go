package types

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind tells how a transaction's sender is established.
type TxKind uint8

const (
	// Signed transactions carry a signature the sender is recovered from.
	Signed TxKind = iota
	// Impersonated transactions carry a sender asserted by the caller.
	Impersonated
)

func (k TxKind) String() string {
	if k == Signed {
		return "signed"
	}
	return "impersonated"
}

// Transaction is either a signed go-ethereum transaction or an unsigned one
// sent on behalf of a declared sender.
type Transaction struct {
	kind TxKind
	tx   *ethtypes.Transaction
	from common.Address
	hash common.Hash
}

// NewSigned wraps a signed transaction and recovers its sender.
func NewSigned(tx *ethtypes.Transaction, signer ethtypes.Signer) (*Transaction, error) {
	from, err := ethtypes.Sender(signer, tx)
	if err != nil {
		return nil, err
	}
	return &Transaction{kind: Signed, tx: tx, from: from, hash: tx.Hash()}, nil
}

// NewImpersonated builds an unsigned transaction for from.
func NewImpersonated(from common.Address, nonce uint64, to *common.Address, value *big.Int, gas uint64, gasPrice *big.Int, data []byte) *Transaction {
	if value == nil {
		value = new(big.Int)
	}
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	t := &Transaction{kind: Impersonated, tx: tx, from: from}
	var buf bytes.Buffer
	t.encode(&buf)
	t.hash = crypto.Keccak256Hash(buf.Bytes())
	return t
}

// impersonatedPayload is the canonical encoding of an impersonated transaction.
type impersonatedPayload struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       *common.Address `rlp:"nil"`
	Value    *big.Int
	Data     []byte
	From     common.Address
}

func (t *Transaction) encode(w *bytes.Buffer) {
	if t.kind == Signed {
		ethtypes.Transactions{t.tx}.EncodeIndex(0, w)
		return
	}
	rlp.Encode(w, &impersonatedPayload{
		Nonce:    t.tx.Nonce(),
		GasPrice: t.tx.GasPrice(),
		Gas:      t.tx.Gas(),
		To:       t.tx.To(),
		Value:    t.tx.Value(),
		Data:     t.tx.Data(),
		From:     t.from,
	})
}

func (t *Transaction) Kind() TxKind                 { return t.kind }
func (t *Transaction) Hash() common.Hash            { return t.hash }
func (t *Transaction) From() common.Address         { return t.from }
func (t *Transaction) Nonce() uint64                { return t.tx.Nonce() }
func (t *Transaction) To() *common.Address          { return t.tx.To() }
func (t *Transaction) Value() *big.Int              { return t.tx.Value() }
func (t *Transaction) Gas() uint64                  { return t.tx.Gas() }
func (t *Transaction) GasPrice() *big.Int           { return t.tx.GasPrice() }
func (t *Transaction) Data() []byte                 { return t.tx.Data() }
func (t *Transaction) Inner() *ethtypes.Transaction { return t.tx }

// Raw returns the signed wire encoding; impersonated transactions have none.
func (t *Transaction) Raw() ([]byte, error) {
	if t.kind != Signed {
		return nil, errors.New("impersonated transaction has no signed encoding")
	}
	return t.tx.MarshalBinary()
}

// Transactions is an ordered transaction list whose trie root is bit-stable.
type Transactions []*Transaction

func (s Transactions) Len() int { return len(s) }

// EncodeIndex encodes the i'th transaction for root derivation.
func (s Transactions) EncodeIndex(i int, w *bytes.Buffer) {
	s[i].encode(w)
}

// RequestKind selects how a queued transaction request is executed.
type RequestKind uint8

const (
	// KindSend executes the transaction in a mined block.
	KindSend RequestKind = iota
	// KindCall executes it on a throwaway state and returns its output.
	KindCall
	// KindEstimate searches for the smallest gas limit it succeeds with.
	KindEstimate
)

func (k RequestKind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindCall:
		return "call"
	case KindEstimate:
		return "estimate"
	}
	return "unknown"
}
