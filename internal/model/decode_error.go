package model

// DecodeError records a decode failure for a raw event.
type DecodeError struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint32 `json:"log_index"`
	FromAddress string `json:"from_address"`
	Selector    string `json:"selector"`
	Error       string `json:"error"`
}
