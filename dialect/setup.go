package dialect

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jacentio/lattice/options"
)

// Setup is the static configuration checked before a dialect is used.
type Setup struct {
	// NamedNativeQueries maps query names to native query strings.
	NamedNativeQueries map[string]string
	Options            *options.Container
}

// ValidateSetup rejects configuration the dialect cannot honour. Every
// returned error matches ErrInvalidConfiguration.
func ValidateSetup(d GridDialect, s Setup) error {
	var errs []error

	if len(s.NamedNativeQueries) > 0 {
		names := make([]string, 0, len(s.NamedNativeQueries))
		for n := range s.NamedNativeQueries {
			names = append(names, n)
		}
		sort.Strings(names)

		q, ok := Facet[QueryableGridDialect](d)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: native queries %v declared but the dialect does not support them", ErrInvalidConfiguration, names))
		} else {
			for _, n := range names {
				if _, err := q.ParseNativeQuery(s.NamedNativeQueries[n]); err != nil {
					errs = append(errs, fmt.Errorf("%w: native query %q: %v", ErrInvalidConfiguration, n, err))
				}
			}
		}
	}

	if aware, ok := Facet[AssociationStorageAwareGridDialect](d); ok {
		for _, v := range s.Options.All() {
			if v.AssociationStorage == options.AssociationStorageUnset {
				continue
			}
			if !aware.SupportsAssociationStorage(v.AssociationStorage) {
				errs = append(errs, fmt.Errorf("%w: association storage %s is not supported", ErrInvalidConfiguration, v.AssociationStorage))
			}
		}
	}

	return errors.Join(errs...)
}
