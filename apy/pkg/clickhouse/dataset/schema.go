package dataset

// FactSchema defines the structure of an append-only fact table.
type FactSchema interface {
	// Name returns the dataset name without the fact_ prefix (e.g. "stake_pool_epoch_apy").
	Name() string
	// Columns returns the column definitions in "name:type" form, in insert order.
	Columns() []string
}
