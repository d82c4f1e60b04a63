package offers

import "errors"

var (
	// ErrMalformedEmbedded marks an embedded identity payload that failed to
	// decode or validate. Callers degrade the card to unidentified.
	ErrMalformedEmbedded = errors.New("malformed embedded data")

	// ErrContainerNotFound means the offers list is not on the page, either
	// because the host changed its markup or has not rendered yet.
	ErrContainerNotFound = errors.New("offers container not found")

	// ErrNoCards means the container exists but holds nothing extractable.
	ErrNoCards = errors.New("no offer cards found")

	errEmptyMarker = errors.New("empty style marker")
)
