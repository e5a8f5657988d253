package rpc

// Ledger service REST paths.
const (
	generateKeysPath   = "/api/keys/generate"
	directoryPath      = "/api/users/directory"
	createLedgerPath   = "/api/blockchain/create"
	balancePath        = "/api/blockchain/balance"
	signPath           = "/api/utils/sign-data-for-client"
	addTransactionPath = "/api/blockchain/add-transaction"
	minePath           = "/api/blockchain/mine"
	validatePath       = "/api/blockchain/validate"
	savePath           = "/api/blockchain/save"
	welcomeBonusPath   = "/api/faucet/request-welcome-bonus"
)
