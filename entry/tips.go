package entry

import "sort"

// Tips returns the ids of entries that no other entry in the given set
// references as a main-line parent, sorted.
func Tips(entries []*Entry) []string {
	referenced := make(map[string]struct{})
	for _, e := range entries {
		for _, p := range e.Parents {
			referenced[p] = struct{}{}
		}
	}
	var tips []string
	for _, e := range entries {
		if _, ok := referenced[e.Id]; !ok {
			tips = append(tips, e.Id)
		}
	}
	sort.Strings(tips)
	return tips
}

// StoreTips returns the tip ids within the named store's scope: entries
// participating in the store that no other participating entry references
// as a store parent, sorted.
func StoreTips(entries []*Entry, store string) []string {
	referenced := make(map[string]struct{})
	var participating []*Entry
	for _, e := range entries {
		if !e.InStore(store) {
			continue
		}
		participating = append(participating, e)
		parents, _ := e.StoreParents(store)
		for _, p := range parents {
			referenced[p] = struct{}{}
		}
	}
	var tips []string
	for _, e := range participating {
		if _, ok := referenced[e.Id]; !ok {
			tips = append(tips, e.Id)
		}
	}
	sort.Strings(tips)
	return tips
}
