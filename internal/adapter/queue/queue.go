package queue

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

// Event subjects published by the engine.
const (
	SubjectDeviceStatus          = "device.status"
	SubjectConnectorStatus       = "connector.status"
	SubjectTransactionState      = "transaction.state_changed"
	SubjectTransactionCompleted  = "transaction.completed"
	SubjectTransactionOrphaned   = "transaction.orphaned"
	SubjectTransactionOrphanLost = "transaction.orphan_expired"
	SubjectAuthDenied            = "auth.denied"
)
