package index

// Ledger records open documents and performed conversions.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Ledger interface {
	UpsertDocument(d DocumentRow) (string, error)
	DeleteDocument(id string) error
	GetChecksum(path string) (string, error)
	SetChecksum(path, checksum string) error
	RecordConversion(c ConversionRow) error
	ListConversions(documentID string, limit int) ([]ConversionRow, error)
	CountByDirection() (map[string]int, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
