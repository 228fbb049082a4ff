package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
)

// StructLog is one executed opcode of a traced transaction.
type StructLog struct {
	PC      uint64            `json:"pc"`
	Op      string            `json:"op"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Stack   []string          `json:"stack"`
	Memory  []string          `json:"memory"`
	Storage map[string]string `json:"storage"`
	Error   string            `json:"error,omitempty"`
}

// TraceResult is the debug_traceTransaction answer.
type TraceResult struct {
	Gas         uint64        `json:"gas"`
	Failed      bool          `json:"failed"`
	ReturnValue hexutil.Bytes `json:"returnValue"`
	StructLogs  []StructLog   `json:"structLogs"`
}

// StructLogger records every opcode of a transaction. SLOAD and SSTORE
// update a per-contract storage view that is attached to each step.
type StructLogger struct {
	statedb tracing.StateDB
	storage map[common.Address]map[common.Hash]common.Hash
	logs    []StructLog
	output  []byte
	gasUsed uint64
	err     error
}

// NewStructLogger returns a logger reading storage values from statedb.
func NewStructLogger(statedb tracing.StateDB) *StructLogger {
	return &StructLogger{
		statedb: statedb,
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// Hooks returns the tracing hooks to hand to the EVM.
func (l *StructLogger) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnOpcode: l.onOpcode,
		OnFault:  l.onFault,
		OnExit:   l.onExit,
	}
}

func (l *StructLogger) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	opcode := vm.OpCode(op)
	stack := scope.StackData()

	entry := StructLog{
		PC:      pc,
		Op:      opcode.String(),
		Gas:     gas,
		GasCost: cost,
		Depth:   depth,
		Stack:   make([]string, len(stack)),
	}
	for i := range stack {
		entry.Stack[i] = fmt.Sprintf("%064x", stack[i].Bytes32())
	}
	mem := scope.MemoryData()
	entry.Memory = make([]string, 0, len(mem)/32)
	for i := 0; i+32 <= len(mem); i += 32 {
		entry.Memory = append(entry.Memory, hex.EncodeToString(mem[i:i+32]))
	}

	contract := scope.Address()
	slots := l.storage[contract]
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		l.storage[contract] = slots
	}
	switch {
	case opcode == vm.SLOAD && len(stack) >= 1:
		slot := common.Hash(stack[len(stack)-1].Bytes32())
		if l.statedb != nil {
			slots[slot] = l.statedb.GetState(contract, slot)
		}
	case opcode == vm.SSTORE && len(stack) >= 2:
		slot := common.Hash(stack[len(stack)-1].Bytes32())
		slots[slot] = common.Hash(stack[len(stack)-2].Bytes32())
	}
	entry.Storage = make(map[string]string, len(slots))
	for k, v := range slots {
		entry.Storage[hex.EncodeToString(k[:])] = hex.EncodeToString(v[:])
	}
	if err != nil {
		entry.Error = err.Error()
	}
	l.logs = append(l.logs, entry)
}

func (l *StructLogger) onFault(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
	if n := len(l.logs); n > 0 && l.logs[n-1].PC == pc && l.logs[n-1].Error == "" {
		l.logs[n-1].Error = err.Error()
	}
}

func (l *StructLogger) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if depth != 0 {
		return
	}
	l.output = common.CopyBytes(output)
	l.gasUsed = gasUsed
	l.err = err
}

// Result returns the trace. gas is the gas the transaction used, which
// includes intrinsic gas and refunds unlike the frame total seen by onExit.
func (l *StructLogger) Result(gas uint64) *TraceResult {
	logs := l.logs
	if logs == nil {
		logs = []StructLog{}
	}
	return &TraceResult{
		Gas:         gas,
		Failed:      l.err != nil,
		ReturnValue: l.output,
		StructLogs:  logs,
	}
}
