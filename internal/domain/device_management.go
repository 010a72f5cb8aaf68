package domain

// VariableRef addresses a device model variable. Value is set for writes and
// filled in on reads.
type VariableRef struct {
	Component string `json:"component"`
	Variable  string `json:"variable"`
	EvseID    *int   `json:"evse_id,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Key is the flat form used in the device variables snapshot.
func (v VariableRef) Key() string {
	return v.Component + "." + v.Variable
}

// CertificateHash identifies an installed certificate.
type CertificateHash struct {
	HashAlgorithm  string `json:"hash_algorithm"`
	IssuerNameHash string `json:"issuer_name_hash"`
	IssuerKeyHash  string `json:"issuer_key_hash"`
	SerialNumber   string `json:"serial_number"`
}

const (
	ResetImmediate = "Immediate"
	ResetOnIdle    = "OnIdle"
)
