// Package destmapper implements the DestinationMapper contract: pure
// transforms over a destination list that change where a payment settles
// without changing its semantics (amount, currency).
package destmapper

import (
	"context"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// Mapper transforms a destination list. sources is the source-address list
// collected in stage 1 of the payment pipeline, informational context for
// mappers that need to know what the payer can pay from; most
// mappers (including Identity and AddressDiscovery) ignore it. Implementations
// must not alter the semantics of the payment's effect — only how it's
// addressed.
type Mapper interface {
	Map(ctx context.Context, destinations []paymentmaker.Destination, sources []paymentmaker.SourceAddress) ([]paymentmaker.Destination, error)
}

// Identity returns its input unchanged; it's the default mapper and the
// baseline every other mapper is compared against.
type Identity struct{}

func (Identity) Map(ctx context.Context, destinations []paymentmaker.Destination, sources []paymentmaker.SourceAddress) ([]paymentmaker.Destination, error) {
	return destinations, nil
}

// Chain applies mappers in order, feeding each one's output into the next.
func Chain(ctx context.Context, destinations []paymentmaker.Destination, sources []paymentmaker.SourceAddress, mappers []Mapper) ([]paymentmaker.Destination, error) {
	current := destinations
	for _, m := range mappers {
		next, err := m.Map(ctx, current, sources)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}
