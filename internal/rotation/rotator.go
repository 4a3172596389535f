// Package rotation selects the next catalog asset for a device while
// avoiding recently shown entries.
package rotation

import "errors"

// ErrEmptyCatalog indicates that the candidate list held no assets at all.
var ErrEmptyCatalog = errors.New("rotation: empty catalog")

// SelectNext walks candidates in source order and returns the first id not
// present in recentlyShown. When the recency window has exhausted the whole
// catalog it degrades to the first candidate instead of failing the
// delivery; if the catalog order is stable across calls this re-repeats the
// head of the list until the window moves, which is accepted behavior.
// Selection is a pure function of its inputs: identical inputs always yield
// the identical asset id.
func SelectNext(candidates []string, recentlyShown map[string]struct{}) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyCatalog
	}
	for _, assetID := range candidates {
		if _, recent := recentlyShown[assetID]; !recent {
			return assetID, nil
		}
	}
	return candidates[0], nil
}
