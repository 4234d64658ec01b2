package domain

// MergeOrder lays an authoritative ordering of external ids over the current list.
//
// External items missing from authoritative are returned in removed. Slots that held
// external items are refilled with the surviving and created external items in
// authoritative order, so locally uploaded items keep their positions; any external
// items left over are appended. Every item in next has Order equal to its index.
func MergeOrder(current []MediaItem, authoritative []string, created []MediaItem) (next []MediaItem, removed []MediaItem) {
	wanted := make(map[string]bool, len(authoritative))
	for _, id := range authoritative {
		wanted[id] = true
	}

	byVideoID := make(map[string]MediaItem, len(current)+len(created))
	var kept []MediaItem
	for _, item := range current {
		if !item.External() {
			kept = append(kept, item)
			continue
		}
		if !wanted[item.VideoID] {
			removed = append(removed, item)
			continue
		}
		if _, dup := byVideoID[item.VideoID]; dup {
			removed = append(removed, item)
			continue
		}
		byVideoID[item.VideoID] = item
		kept = append(kept, item)
	}
	for _, item := range created {
		if _, ok := byVideoID[item.VideoID]; !ok && wanted[item.VideoID] {
			byVideoID[item.VideoID] = item
		}
	}

	externals := make([]MediaItem, 0, len(authoritative))
	seen := make(map[string]bool, len(authoritative))
	for _, id := range authoritative {
		item, ok := byVideoID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		externals = append(externals, item)
	}

	next = make([]MediaItem, 0, len(kept)+len(externals))
	e := 0
	for _, item := range kept {
		if item.External() {
			next = append(next, externals[e])
			e++
			continue
		}
		next = append(next, item)
	}
	next = append(next, externals[e:]...)

	for i := range next {
		next[i].Order = i
	}
	return next, removed
}
