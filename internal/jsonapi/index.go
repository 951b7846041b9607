package jsonapi

// Index maps "type:id" to side-loaded resources.
type Index map[string]*Resource

// Key builds the index key for a resource type and id.
func Key(typ, id string) string {
	return typ + ":" + id
}

// IndexIncluded builds an Index over an included array. Later duplicates win.
func IndexIncluded(included []Resource) Index {
	ix := make(Index, len(included))
	for i := range included {
		r := &included[i]
		if r.ID == "" || r.Type == "" {
			continue
		}
		ix[Key(r.Type, r.ID)] = r
	}
	return ix
}

// FindIncluded looks up a side-loaded resource, nil when absent.
func FindIncluded(ix Index, typ, id string) *Resource {
	return ix.Find(typ, id)
}

// Find looks up a side-loaded resource by type and id. Hyphen and underscore
// spellings of the type are both tried.
func (ix Index) Find(typ, id string) *Resource {
	if ix == nil || id == "" {
		return nil
	}
	for _, variant := range keyVariants(typ) {
		if r, ok := ix[Key(variant, id)]; ok {
			return r
		}
	}
	return nil
}

// Resolve looks up the resource a linkage identifier points at.
func (ix Index) Resolve(ident *Identifier) *Resource {
	if ident == nil {
		return nil
	}
	return ix.Find(ident.Type, ident.ID)
}

// Related resolves a to-one relationship of r through the index.
func (ix Index) Related(r *Resource, names ...string) *Resource {
	rel, ok := r.Rel(names...)
	if !ok {
		return nil
	}
	return ix.Resolve(rel.Data.First())
}

// Merge adds the entries of other, keeping existing ones.
func (ix Index) Merge(other Index) Index {
	if ix == nil {
		ix = make(Index, len(other))
	}
	for k, v := range other {
		if _, ok := ix[k]; !ok {
			ix[k] = v
		}
	}
	return ix
}
