package store

// QueryOption adjusts a read.
type QueryOption func(*queryOptions)

type orderSpec struct {
	prop string
	desc bool
}

type queryOptions struct {
	includes   []string
	bypass     bool
	split      bool
	orders     []orderSpec
	limit      int
	offset     int
	noTracking bool
}

func applyOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Include eagerly loads the named navigations.
func Include(navs ...string) QueryOption {
	return func(o *queryOptions) { o.includes = append(o.includes, navs...) }
}

// BypassFilters disables global filters for the read and its navigations.
func BypassFilters() QueryOption {
	return func(o *queryOptions) { o.bypass = true }
}

// SplitQuery loads each included navigation with its own statement.
func SplitQuery() QueryOption {
	return func(o *queryOptions) { o.split = true }
}

// OrderBy sorts ascending by a property.
func OrderBy(prop string) QueryOption {
	return func(o *queryOptions) { o.orders = append(o.orders, orderSpec{prop: prop}) }
}

// OrderByDesc sorts descending by a property.
func OrderByDesc(prop string) QueryOption {
	return func(o *queryOptions) { o.orders = append(o.orders, orderSpec{prop: prop, desc: true}) }
}

// Limit caps the number of results.
func Limit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// Offset skips results.
func Offset(n int) QueryOption {
	return func(o *queryOptions) { o.offset = n }
}

// NoTracking materializes results without registering them in the session.
func NoTracking() QueryOption {
	return func(o *queryOptions) { o.noTracking = true }
}
