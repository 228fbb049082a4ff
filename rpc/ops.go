package rpc

// Op is a JSON-RPC method the node serves.
type Op int

const (
	OpClientVersion Op = iota
	OpSha3
	OpNetVersion
	OpNetListening
	OpNetPeerCount
	OpProtocolVersion
	OpSyncing
	OpCompilers
	OpAccounts
	OpBlockNumber
	OpChainID
	OpCoinbase
	OpMining
	OpHashrate
	OpGasPrice
	OpGetBalance
	OpGetCode
	OpGetStorageAt
	OpGetTransactionCount
	OpGetBlockByNumber
	OpGetBlockByHash
	OpGetBlockTransactionCountByNumber
	OpGetBlockTransactionCountByHash
	OpGetTransactionByHash
	OpGetTransactionByBlockHashAndIndex
	OpGetTransactionByBlockNumberAndIndex
	OpGetTransactionReceipt
	OpGetUncleCountByBlockHash
	OpGetUncleCountByBlockNumber
	OpGetUncleByBlockHashAndIndex
	OpGetUncleByBlockNumberAndIndex
	OpSign
	OpSignTypedData
	OpSendTransaction
	OpSendRawTransaction
	OpCall
	OpEstimateGas
	OpNewBlockFilter
	OpNewFilter
	OpGetFilterChanges
	OpGetFilterLogs
	OpUninstallFilter
	OpGetLogs
	OpSubscribe
	OpUnsubscribe
	OpMinerStart
	OpMinerStop
	OpModules
	OpPersonalListAccounts
	OpPersonalNewAccount
	OpPersonalImportRawKey
	OpPersonalLockAccount
	OpPersonalUnlockAccount
	OpPersonalSendTransaction
	OpSnapshot
	OpRevert
	OpIncreaseTime
	OpSetTime
	OpMine
	OpTraceTransaction

	// Mining work, db, whisper and swarm methods answer fixed placeholders.
	OpGetWork
	OpSubmitWork
	OpSubmitHashrate
	OpDBPutString
	OpDBGetString
	OpDBPutHex
	OpDBGetHex
	OpShhVersion
	OpShhPost
	OpShhNewIdentity
	OpShhHasIdentity
	OpShhNewGroup
	OpShhAddToGroup
	OpShhNewFilter
	OpShhUninstallFilter
	OpShhGetFilterChanges
	OpShhGetMessages
	OpBzzHive
	OpBzzInfo
)

// opSpec is the arity of an op. BlockArg is the position of an optional
// trailing block parameter defaulting to "latest", or -1.
type opSpec struct {
	Op       Op
	Name     string
	MinArgs  int
	MaxArgs  int
	BlockArg int
}

var opSpecs = []opSpec{
	{OpClientVersion, "web3_clientVersion", 0, 0, -1},
	{OpSha3, "web3_sha3", 1, 1, -1},
	{OpNetVersion, "net_version", 0, 0, -1},
	{OpNetListening, "net_listening", 0, 0, -1},
	{OpNetPeerCount, "net_peerCount", 0, 0, -1},
	{OpProtocolVersion, "eth_protocolVersion", 0, 0, -1},
	{OpSyncing, "eth_syncing", 0, 0, -1},
	{OpCompilers, "eth_getCompilers", 0, 0, -1},
	{OpAccounts, "eth_accounts", 0, 0, -1},
	{OpBlockNumber, "eth_blockNumber", 0, 0, -1},
	{OpChainID, "eth_chainId", 0, 0, -1},
	{OpCoinbase, "eth_coinbase", 0, 0, -1},
	{OpMining, "eth_mining", 0, 0, -1},
	{OpHashrate, "eth_hashrate", 0, 0, -1},
	{OpGasPrice, "eth_gasPrice", 0, 0, -1},
	{OpGetBalance, "eth_getBalance", 2, 2, 1},
	{OpGetCode, "eth_getCode", 2, 2, 1},
	{OpGetStorageAt, "eth_getStorageAt", 3, 3, 2},
	{OpGetTransactionCount, "eth_getTransactionCount", 2, 2, 1},
	{OpGetBlockByNumber, "eth_getBlockByNumber", 2, 2, -1},
	{OpGetBlockByHash, "eth_getBlockByHash", 2, 2, -1},
	{OpGetBlockTransactionCountByNumber, "eth_getBlockTransactionCountByNumber", 1, 1, -1},
	{OpGetBlockTransactionCountByHash, "eth_getBlockTransactionCountByHash", 1, 1, -1},
	{OpGetTransactionByHash, "eth_getTransactionByHash", 1, 1, -1},
	{OpGetTransactionByBlockHashAndIndex, "eth_getTransactionByBlockHashAndIndex", 2, 2, -1},
	{OpGetTransactionByBlockNumberAndIndex, "eth_getTransactionByBlockNumberAndIndex", 2, 2, -1},
	{OpGetTransactionReceipt, "eth_getTransactionReceipt", 1, 1, -1},
	{OpGetUncleCountByBlockHash, "eth_getUncleCountByBlockHash", 1, 1, -1},
	{OpGetUncleCountByBlockNumber, "eth_getUncleCountByBlockNumber", 1, 1, -1},
	{OpGetUncleByBlockHashAndIndex, "eth_getUncleByBlockHashAndIndex", 2, 2, -1},
	{OpGetUncleByBlockNumberAndIndex, "eth_getUncleByBlockNumberAndIndex", 2, 2, -1},
	{OpSign, "eth_sign", 2, 2, -1},
	{OpSignTypedData, "eth_signTypedData", 2, 2, -1},
	{OpSendTransaction, "eth_sendTransaction", 1, 1, -1},
	{OpSendRawTransaction, "eth_sendRawTransaction", 1, 1, -1},
	{OpCall, "eth_call", 2, 2, 1},
	{OpEstimateGas, "eth_estimateGas", 2, 2, 1},
	{OpNewBlockFilter, "eth_newBlockFilter", 0, 0, -1},
	{OpNewFilter, "eth_newFilter", 1, 1, -1},
	{OpGetFilterChanges, "eth_getFilterChanges", 1, 1, -1},
	{OpGetFilterLogs, "eth_getFilterLogs", 1, 1, -1},
	{OpUninstallFilter, "eth_uninstallFilter", 1, 1, -1},
	{OpGetLogs, "eth_getLogs", 1, 1, -1},
	{OpSubscribe, "eth_subscribe", 1, 2, -1},
	{OpUnsubscribe, "eth_unsubscribe", 1, 1, -1},
	{OpMinerStart, "miner_start", 0, 1, -1},
	{OpMinerStop, "miner_stop", 0, 0, -1},
	{OpModules, "rpc_modules", 0, 0, -1},
	{OpPersonalListAccounts, "personal_listAccounts", 0, 0, -1},
	{OpPersonalNewAccount, "personal_newAccount", 1, 1, -1},
	{OpPersonalImportRawKey, "personal_importRawKey", 2, 2, -1},
	{OpPersonalLockAccount, "personal_lockAccount", 1, 1, -1},
	{OpPersonalUnlockAccount, "personal_unlockAccount", 2, 3, -1},
	{OpPersonalSendTransaction, "personal_sendTransaction", 2, 2, -1},
	{OpSnapshot, "evm_snapshot", 0, 0, -1},
	{OpRevert, "evm_revert", 1, 1, -1},
	{OpIncreaseTime, "evm_increaseTime", 1, 1, -1},
	{OpSetTime, "evm_setTime", 1, 1, -1},
	{OpMine, "evm_mine", 0, 1, -1},
	{OpTraceTransaction, "debug_traceTransaction", 1, 2, -1},
	{OpGetWork, "eth_getWork", 0, 1, -1},
	{OpSubmitWork, "eth_submitWork", 3, 3, -1},
	{OpSubmitHashrate, "eth_submitHashrate", 2, 2, -1},
	{OpDBPutString, "db_putString", 3, 3, -1},
	{OpDBGetString, "db_getString", 2, 2, -1},
	{OpDBPutHex, "db_putHex", 3, 3, -1},
	{OpDBGetHex, "db_getHex", 2, 2, -1},
	{OpShhVersion, "shh_version", 0, 0, -1},
	{OpShhPost, "shh_post", 1, 6, -1},
	{OpShhNewIdentity, "shh_newIdentity", 0, 0, -1},
	{OpShhHasIdentity, "shh_hasIdentity", 1, 1, -1},
	{OpShhNewGroup, "shh_newGroup", 0, 0, -1},
	{OpShhAddToGroup, "shh_addToGroup", 1, 1, -1},
	{OpShhNewFilter, "shh_newFilter", 1, 2, -1},
	{OpShhUninstallFilter, "shh_uninstallFilter", 1, 1, -1},
	{OpShhGetFilterChanges, "shh_getFilterChanges", 1, 1, -1},
	{OpShhGetMessages, "shh_getMessages", 1, 1, -1},
	{OpBzzHive, "bzz_hive", 0, 0, -1},
	{OpBzzInfo, "bzz_info", 0, 0, -1},
}

// opTable maps wire names to their descriptors.
var opTable = func() map[string]opSpec {
	table := make(map[string]opSpec, len(opSpecs))
	for _, s := range opSpecs {
		table[s.Name] = s
	}
	return table
}()

func (op Op) String() string {
	if op < 0 || int(op) >= len(opSpecs) {
		return "unknown"
	}
	return opSpecs[op].Name
}

// Lookup returns the op served under method.
func Lookup(method string) (Op, bool) {
	s, ok := opTable[method]
	return s.Op, ok
}

// Modules is the rpc_modules answer.
var Modules = map[string]string{
	"eth":      "1.0",
	"net":      "1.0",
	"rpc":      "1.0",
	"web3":     "1.0",
	"evm":      "1.0",
	"personal": "1.0",
	"miner":    "1.0",
	"debug":    "1.0",
}
