package cctp

// AttestationResponse represents the response from the messages API
type AttestationResponse struct {
	Messages []Message `json:"messages"`
}

// Message is one burn message and its attestation
type Message struct {
	Attestation    string   `json:"attestation"`
	Message        string   `json:"message"`
	EventNonce     string   `json:"eventNonce"`
	Status         string   `json:"status"`
	CCTPVersion    int      `json:"cctpVersion"`
	DecodedMessage *Decoded `json:"decodedMessage,omitempty"`
}

// Decoded carries the fields of a burn message the bridge cares about
type Decoded struct {
	SourceDomain      string `json:"sourceDomain"`
	DestinationDomain string `json:"destinationDomain"`
	Nonce             string `json:"nonce"`
	Sender            string `json:"sender"`
	Recipient         string `json:"recipient"`
}

// IsComplete reports whether the attestation can be used to mint
func (m Message) IsComplete() bool {
	return m.Status == AttestationStatusComplete && m.Attestation != "" && m.Attestation != "PENDING"
}

// FeesResponse represents the fees for a cross-chain transfer
type FeesResponse struct {
	SourceDomain      uint32 `json:"sourceDomain"`
	DestinationDomain uint32 `json:"destinationDomain"`
	FastTransferFee   Fee    `json:"fastTransferFee"`
	StandardFee       Fee    `json:"standardFee"`
}

// Fee represents fee details
type Fee struct {
	MinimumFee uint64 `json:"minimumFee"` // in basis points
}
