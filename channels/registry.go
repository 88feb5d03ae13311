package channels

import (
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Registry holds exactly one adapter per supported channel. The set is
// closed: lookups go through an exhaustive switch over Key.
type Registry struct {
	airbnb     Adapter
	bookingCom Adapter
	vrbo       Adapter
	ical       Adapter
	bus        Adapter
}

// NewRegistry wires the production adapters.
func NewRegistry(normalizer Normalizer, client *http.Client) *Registry {
	return &Registry{
		airbnb:     NewOTAAdapter(Airbnb, normalizer, client),
		bookingCom: NewOTAAdapter(BookingCom, normalizer, client),
		vrbo:       NewOTAAdapter(Vrbo, normalizer, client),
		ical:       NewICalAdapter(normalizer, client),
		bus:        NewBusAdapter(normalizer, nil, nil),
	}
}

func (r *Registry) slot(key Key) *Adapter {
	switch key {
	case Airbnb:
		return &r.airbnb
	case BookingCom:
		return &r.bookingCom
	case Vrbo:
		return &r.vrbo
	case ICal:
		return &r.ical
	case ChannelBus:
		return &r.bus
	}
	return nil
}

func (r *Registry) Lookup(key Key) (Adapter, error) {
	s := r.slot(key)
	if s == nil || *s == nil {
		return nil, errors.Wrapf(ErrUnknownChannel, "%q", key)
	}
	return *s, nil
}

// Replace swaps the adapter registered under a.Key().
func (r *Registry) Replace(a Adapter) error {
	if a == nil {
		return errors.New("nil adapter")
	}
	s := r.slot(a.Key())
	if s == nil {
		return errors.Wrapf(ErrUnknownChannel, "%q", a.Key())
	}
	*s = a
	return nil
}

func (r *Registry) Close() error {
	var firstErr error
	for _, k := range Keys {
		s := r.slot(k)
		if s == nil || *s == nil {
			continue
		}
		if c, ok := (*s).(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
