package domain

// CanonicalType is the vendor-agnostic type enumeration that connectors
// map their native type codes onto. Consumers (the executor, the masker,
// the visualization adapter) only ever see canonical types.
type CanonicalType string

const (
	TypeText      CanonicalType = "text"
	TypeInteger   CanonicalType = "integer"
	TypeFloat     CanonicalType = "float"
	TypeBoolean   CanonicalType = "boolean"
	TypeTimestamp CanonicalType = "timestamp"
	TypeDate      CanonicalType = "date"
	TypeJSON      CanonicalType = "json"
	TypeBinary    CanonicalType = "binary"
	TypeUnknown   CanonicalType = "unknown"
)
