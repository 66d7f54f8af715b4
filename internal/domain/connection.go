package domain

import "time"

// Vendor is the closed enum of supported backend database systems.
// Only Postgres and Athena have real connectors in this repo; the rest are declared
// so the capability surface (internal/capability) and connector registry
// can enumerate them and return ErrUnsupportedVendor consistently instead
// of rejecting unknown strings with a generic validation error.
type Vendor string

const (
	VendorPostgres       Vendor = "postgres"
	VendorMySQL          Vendor = "mysql"
	VendorRedshift       Vendor = "redshift"
	VendorSnowflake      Vendor = "snowflake"
	VendorBigQuery       Vendor = "bigquery"
	VendorDatabricks     Vendor = "databricks"
	VendorAthena         Vendor = "athena"
	VendorOracle         Vendor = "oracle"
	VendorSQLServer      Vendor = "sqlserver"
	VendorSAPHana        Vendor = "sap_hana"
	VendorAzureSynapse   Vendor = "azure_synapse"
	VendorTrino          Vendor = "trino"
	VendorAuroraMySQL    Vendor = "aurora_mysql"
	VendorAuroraPostgres Vendor = "aurora_postgres"
	VendorRDSMySQL       Vendor = "rds_mysql"
	VendorRDSPostgres    Vendor = "rds_postgres"
)

var knownVendors = map[Vendor]bool{
	VendorPostgres: true, VendorMySQL: true, VendorRedshift: true,
	VendorSnowflake: true, VendorBigQuery: true, VendorDatabricks: true,
	VendorAthena: true, VendorOracle: true, VendorSQLServer: true,
	VendorSAPHana: true, VendorAzureSynapse: true, VendorTrino: true,
	VendorAuroraMySQL: true, VendorAuroraPostgres: true,
	VendorRDSMySQL: true, VendorRDSPostgres: true,
}

// ValidVendor reports whether v is a recognized (not necessarily
// implemented) vendor tag.
func ValidVendor(v Vendor) bool { return knownVendors[v] }

// AllVendors lists the closed vendor enum, for the capabilities surface
// (internal/capability, internal/httpapi) to enumerate without each
// caller hand-maintaining its own copy of the set.
func AllVendors() []Vendor {
	return []Vendor{
		VendorPostgres, VendorMySQL, VendorRedshift, VendorSnowflake,
		VendorBigQuery, VendorDatabricks, VendorAthena, VendorOracle,
		VendorSQLServer, VendorSAPHana, VendorAzureSynapse, VendorTrino,
		VendorAuroraMySQL, VendorAuroraPostgres, VendorRDSMySQL, VendorRDSPostgres,
	}
}

// SSLMode is the connection's TLS discipline.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLPrefer     SSLMode = "prefer"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

// SSLDiscipline pairs a mode with its optional CA material.
type SSLDiscipline struct {
	Mode   SSLMode
	CAPath string // optional, only meaningful for verify-ca/verify-full
}

// SecretBag holds credential material for a connection. It is mutated
// only through a configuration reload (internal/config.Store.Reload),
// never serialized back to a caller, and never logged — see
// internal/secrets for the encryption-at-rest and redaction helpers that
// enforce this.
type SecretBag struct {
	Password string
	APIKey   string
	Extra    map[string]string // vendor-specific secret fields (e.g. private_key)
}

// PoolBounds are the connection pool sizing knobs for one descriptor.
type PoolBounds struct {
	Min            int
	Max            int
	IdleEvictAfter time.Duration
}

// ConnectionDescriptor is the full configuration for one data source.
// Its ID is stable for the descriptor's lifetime.
type ConnectionDescriptor struct {
	ID             string
	Name           string
	Vendor         Vendor
	Host           string
	Port           int
	Database       string
	Schema         string // optional
	Role           string // optional
	Warehouse      string // optional (Snowflake et al.)
	Catalog        string // optional (Trino et al.)
	Username       string
	Secrets        SecretBag
	SSL            SSLDiscipline
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Pool           PoolBounds
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Redacted returns a copy of the descriptor with the secret bag cleared,
// safe to serialize back to a caller (spec.md §3: "never serialized back").
func (d ConnectionDescriptor) Redacted() ConnectionDescriptor {
	d.Secrets = SecretBag{}
	return d
}
