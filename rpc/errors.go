package rpc

import (
	"errors"
	"fmt"

	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// MethodNotFoundError is returned for methods the node does not serve.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("Method %s not supported.", e.Method)
}

// ErrorOf maps err to the JSON-RPC error sent to clients.
func ErrorOf(err error) *Error {
	var (
		rpcErr      *Error
		notFound    *MethodNotFoundError
		validation  *types.ValidationError
		coded       gethrpc.Error
		withPayload interface{ ErrorData() interface{} }
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &notFound):
		return &Error{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.As(err, &validation):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	e := &Error{Code: CodeServerError, Message: err.Error()}
	if errors.As(err, &coded) {
		e.Code = coded.ErrorCode()
	}
	if errors.As(err, &withPayload) {
		e.Data = withPayload.ErrorData()
	}
	return e
}

// sendError carries the hash of a transaction that was queued before mining
// it failed.
type sendError struct {
	hash common.Hash
	err  error
}

func (e *sendError) Error() string { return e.err.Error() }
func (e *sendError) Unwrap() error { return e.err }

func (e *sendError) ErrorData() interface{} {
	data := map[string]interface{}{"hash": e.hash}
	var exec *types.ExecutionError
	if errors.As(e.err, &exec) && len(exec.Revert) > 0 {
		data["return"] = hexutil.Encode(exec.Revert)
		if reason := exec.Reason(); reason != "" {
			data["reason"] = reason
		}
	}
	return data
}
