package ibuf

import "github.com/NVIDIA/indexedbuffer/catalog"

// minutesPerHour converts a time_value (minutes since epoch) into the
// hour bucket and in-hour minute that GetCatalog groups by.
const minutesPerHour = 60

// Item is one entry in GetCatalog's per-device, per-hour listing: the
// minute (0..59) within its hour bucket that an artifact was ingested
// at.
type Item struct {
	Minute int
}

// CatalogView is the shape GetCatalog returns: for each device, a map
// from hour-bucket (hours since epoch) to the ordered list of minutes
// within that hour holding an entry.
type CatalogView map[uint32]map[uint64][]Item

func buildCatalogView(records []catalog.Record) CatalogView {
	view := make(CatalogView)
	for _, rec := range records {
		hourBucket := rec.TimeValue / minutesPerHour
		minute := int(rec.TimeValue % minutesPerHour)

		byHour, ok := view[rec.Device]
		if !ok {
			byHour = make(map[uint64][]Item)
			view[rec.Device] = byHour
		}
		byHour[hourBucket] = append(byHour[hourBucket], Item{Minute: minute})
	}
	return view
}
