package telemdb

import "context"

// Location binds one Key to one Store.
type Location struct {
	Store Store
	Key   Key
}

// NewLocation returns a Location of a fresh Key within store.
func NewLocation(store Store) Location {
	return Location{Store: store, Key: NewKey()}
}

// At returns a Location of key within the same Store.
func (l Location) At(key Key) Location {
	return Location{Store: l.Store, Key: key}
}

func (l Location) Read(ctx context.Context) (string, error) {
	return l.Store.Read(ctx, l.Key)
}

func (l Location) Write(ctx context.Context, value string) error {
	return l.Store.Write(ctx, l.Key, value)
}

func (l Location) Delete(ctx context.Context) error {
	return l.Store.Delete(ctx, l.Key)
}

func (l Location) String() string { return l.Key.String() }
