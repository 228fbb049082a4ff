package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// FilterArgs are the criteria of eth_newFilter, eth_getLogs and log
// subscriptions.
type FilterArgs ethereum.FilterQuery

// UnmarshalJSON accepts a single address or a list of addresses, and null,
// a single topic or a list of alternatives at each topic position. Block
// tags become negative bounds.
func (args *FilterArgs) UnmarshalJSON(data []byte) error {
	var raw struct {
		BlockHash *common.Hash         `json:"blockHash"`
		FromBlock *gethrpc.BlockNumber `json:"fromBlock"`
		ToBlock   *gethrpc.BlockNumber `json:"toBlock"`
		Addresses interface{}          `json:"address"`
		Topics    []interface{}        `json:"topics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.BlockHash != nil {
		if raw.FromBlock != nil || raw.ToBlock != nil {
			return errors.New("cannot specify both blockHash and fromBlock/toBlock")
		}
		args.BlockHash = raw.BlockHash
	} else {
		if raw.FromBlock != nil {
			args.FromBlock = big.NewInt(raw.FromBlock.Int64())
		}
		if raw.ToBlock != nil {
			args.ToBlock = big.NewInt(raw.ToBlock.Int64())
		}
	}

	switch v := raw.Addresses.(type) {
	case nil:
	case string:
		addr, err := decodeAddress(v)
		if err != nil {
			return err
		}
		args.Addresses = []common.Address{addr}
	case []interface{}:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("invalid address at index %d", i)
			}
			addr, err := decodeAddress(s)
			if err != nil {
				return fmt.Errorf("invalid address at index %d: %v", i, err)
			}
			args.Addresses = append(args.Addresses, addr)
		}
	default:
		return errors.New("invalid addresses in query")
	}

	args.Topics = make([][]common.Hash, len(raw.Topics))
	for i, t := range raw.Topics {
		switch topic := t.(type) {
		case nil:
		case string:
			h, err := decodeTopic(topic)
			if err != nil {
				return err
			}
			args.Topics[i] = []common.Hash{h}
		case []interface{}:
			for _, alt := range topic {
				if alt == nil {
					args.Topics[i] = nil
					break
				}
				s, ok := alt.(string)
				if !ok {
					return errors.New("invalid topic(s)")
				}
				h, err := decodeTopic(s)
				if err != nil {
					return err
				}
				args.Topics[i] = append(args.Topics[i], h)
			}
		default:
			return errors.New("invalid topic(s)")
		}
	}
	return nil
}

// Query returns the criteria as the engine takes them.
func (args FilterArgs) Query() ethereum.FilterQuery {
	return ethereum.FilterQuery(args)
}

func decodeAddress(s string) (common.Address, error) {
	b, err := hexutil.Decode(s)
	if err == nil && len(b) != common.AddressLength {
		err = fmt.Errorf("hex has invalid length %d after decoding; expected %d for address", len(b), common.AddressLength)
	}
	return common.BytesToAddress(b), err
}

func decodeTopic(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err == nil && len(b) != common.HashLength {
		err = fmt.Errorf("hex has invalid length %d after decoding; expected %d for topic", len(b), common.HashLength)
	}
	return common.BytesToHash(b), err
}

// Quantity is an integer given either as a JSON number or a hex string.
type Quantity int64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
			v, err := hexutil.DecodeBig(str)
			if err != nil {
				return err
			}
			if !v.IsInt64() {
				return fmt.Errorf("quantity %s out of range", str)
			}
			*q = Quantity(v.Int64())
			return nil
		}
		s = str
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %s", s)
	}
	*q = Quantity(f)
	return nil
}

// Time is a point in time given as an RFC 3339 date or as milliseconds
// since the epoch.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	var ms Quantity
	if err := ms.UnmarshalJSON(data); err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}
