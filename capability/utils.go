package capability

import (
	"time"

	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/persistence/converter"
)

const (
	LastUpdatedKey = "LastUpdated"
	LastChangedKey = "LastChanged"
)

// Touch records that a report refreshed the section now, and whether the
// value it carried differed from the cached one.
func Touch(s persistence.Section, changed bool) {
	now := time.Now()

	converter.Store(s, LastUpdatedKey, now, converter.TimeEncoder)

	if changed {
		converter.Store(s, LastChangedKey, now, converter.TimeEncoder)
	}
}

// LastUpdated returns when the section last saw any report.
func LastUpdated(s persistence.Section) (time.Time, bool) {
	return converter.Retrieve(s, LastUpdatedKey, converter.TimeDecoder)
}

// LastChanged returns when the section last saw a differing value.
func LastChanged(s persistence.Section) (time.Time, bool) {
	return converter.Retrieve(s, LastChangedKey, converter.TimeDecoder)
}
