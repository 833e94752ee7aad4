package usecase

// SetBeforeFlight installs a hook run after a cache miss and before the computation is joined
func (c *Cache[V]) SetBeforeFlight(fn func()) {
	c.beforeFlight = fn
}
