package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Admission failures. A transaction failing admission never enters a block.
var (
	ErrNonceTooLow          = errors.New("nonce too low")
	ErrExceedsBlockGasLimit = errors.New("Exceeds block gas limit")
	ErrInsufficientFunds    = errors.New("insufficient funds for gas * price + value")
	ErrAccountLocked        = errors.New("sender account not recognized")
	ErrIntrinsicGas         = errors.New("intrinsic gas too low")
	ErrNoPrivateKey         = errors.New("cannot sign: no private key for account")
)

// ValidationError reports malformed or missing request arguments.
type ValidationError struct {
	Op  string
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// AdmissionError wraps the reason a transaction was refused.
type AdmissionError struct {
	Err error
}

func (e *AdmissionError) Error() string { return e.Err.Error() }
func (e *AdmissionError) Unwrap() error { return e.Err }

// Admission wraps err as an AdmissionError.
func Admission(err error) error {
	return &AdmissionError{Err: err}
}

// ExecutionError reports a transaction or call that ran and failed.
type ExecutionError struct {
	TxHash common.Hash
	Err    error
	Revert []byte
}

func (e *ExecutionError) Error() string {
	msg := "VM Exception while processing transaction: " + e.Err.Error()
	if reason := e.Reason(); reason != "" {
		msg += " " + reason
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Reason decodes the Error(string) revert payload when present.
func (e *ExecutionError) Reason() string {
	if len(e.Revert) == 0 {
		return ""
	}
	if reason, err := abi.UnpackRevert(e.Revert); err == nil {
		return reason
	}
	return hexutil.Encode(e.Revert)
}

// ErrorData returns the raw revert payload for JSON-RPC error data.
func (e *ExecutionError) ErrorData() interface{} {
	if len(e.Revert) == 0 {
		return nil
	}
	return hexutil.Encode(e.Revert)
}

// TxOutcome is one participant of a mining pass.
type TxOutcome struct {
	TxHash common.Hash
	Err    error // nil on success
}

// AggregateExecutionError collects every outcome of a mining pass in which at
// least one transaction failed. Successful transactions stay mined.
type AggregateExecutionError struct {
	Outcomes []TxOutcome
}

func (e *AggregateExecutionError) Error() string {
	var b strings.Builder
	b.WriteString("Multiple VM Exceptions while processing transactions:")
	for _, o := range e.Outcomes {
		if o.Err == nil {
			fmt.Fprintf(&b, "\n%s: success", o.TxHash.Hex())
			continue
		}
		fmt.Fprintf(&b, "\n%s: %v", o.TxHash.Hex(), o.Err)
	}
	return b.String()
}

// Unwrap exposes the failed outcomes to errors.Is and errors.As.
func (e *AggregateExecutionError) Unwrap() []error {
	var errs []error
	for _, o := range e.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Failed returns the outcomes that carry an error.
func (e *AggregateExecutionError) Failed() []TxOutcome {
	var failed []TxOutcome
	for _, o := range e.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
