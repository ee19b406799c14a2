// Package cache provides a keyed recycling pool for idle GPU objects.
//
// A Pool holds values that are no longer in use but are expensive to
// recreate, such as textures and buffers whose frame has retired. Values
// are grouped by key; Take returns the most recently returned value for a
// key. When more values are idle than the pool's limit, the least recently
// returned one is evicted and handed to the eviction callback.
//
//	p := cache.NewPool[Desc, *Texture](64, func(t *Texture) { t.Destroy() })
//	p.Put(desc, tex)
//	tex, ok := p.Take(desc)
//
// Pool is safe for concurrent use and must not be copied after creation.
package cache
