package ibuf

import "github.com/NVIDIA/indexedbuffer/catalog"

// Retention classes re-exported from catalog so callers of ibuf never
// need to import the catalog package directly.
const (
	DeleteIfFull   = catalog.DeleteIfFull
	AttemptKeep    = catalog.AttemptKeep
	PreserveRecord = catalog.PreserveRecord
)
