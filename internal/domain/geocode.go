package domain

import "context"

// Geocoder resolves a free-text street address to coordinates. found is false
// when the address matched nothing usable; that is not an error.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (coords Coordinates, found bool, err error)
}
