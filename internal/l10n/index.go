package l10n

// Index looks up a project's resources by source file and by slug.
//
// Duplicate source files or slugs are resolved last-one-wins, matching plain
// map insertion. The index is read-only once built.
type Index struct {
	bySource  map[string]*Resource
	bySlug    map[string]*Resource
	resources []*Resource
}

// NewIndex builds an index over resources, preserving their order.
func NewIndex(resources []*Resource) *Index {
	idx := &Index{
		bySource:  make(map[string]*Resource, len(resources)),
		bySlug:    make(map[string]*Resource, len(resources)),
		resources: make([]*Resource, 0, len(resources)),
	}
	for _, r := range resources {
		if prev, ok := idx.bySource[r.SourceFile]; ok {
			idx.remove(prev)
		}
		idx.bySource[r.SourceFile] = r
		idx.bySlug[r.ResourceSlug] = r
		idx.resources = append(idx.resources, r)
	}
	return idx
}

func (idx *Index) remove(r *Resource) {
	if idx.bySlug[r.ResourceSlug] == r {
		delete(idx.bySlug, r.ResourceSlug)
	}
	for i, existing := range idx.resources {
		if existing == r {
			idx.resources = append(idx.resources[:i], idx.resources[i+1:]...)
			return
		}
	}
}

// BySourceFile returns the resource owning path.
func (idx *Index) BySourceFile(path string) (*Resource, bool) {
	r, ok := idx.bySource[path]
	return r, ok
}

// BySlug returns the resource with the given (bare) slug.
func (idx *Index) BySlug(slug string) (*Resource, bool) {
	r, ok := idx.bySlug[slug]
	return r, ok
}

// Resources returns the indexed resources in configuration order.
func (idx *Index) Resources() []*Resource {
	return idx.resources
}

// Len returns the number of distinct source files indexed.
func (idx *Index) Len() int {
	return len(idx.bySource)
}
