package model

// AbiParam describes one input or output of an ABI entry.
type AbiParam struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed,omitempty"`
}

// AbiEntry is one normalized function or event descriptor.
type AbiEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	Signature       string     `json:"signature"`
	StateMutability string     `json:"state_mutability,omitempty"`
	Anonymous       bool       `json:"anonymous,omitempty"`
	Inputs          []AbiParam `json:"inputs"`
	Outputs         []AbiParam `json:"outputs,omitempty"`
}

// AbiRecord is the normalized ABI of one contract. Entries keep the order
// produced by the normalizer; the record is overwritten wholesale on refresh.
type AbiRecord struct {
	Address string     `json:"address"`
	ChainID uint64     `json:"chain_id"`
	Entries []AbiEntry `json:"entries"`
}
