package quantum

// Context tags provide domain separation between encryption purposes so a
// ciphertext produced for one purpose can never be mistaken for another.
const (
	ContextBridgeTransaction = "kembridge/bridge_transaction/v1"
	ContextKeyExchange       = "kembridge/key_exchange/v1"
	ContextSessionData       = "kembridge/session_data/v1"
)

const aesInfoSuffix = "aes-256-gcm"
