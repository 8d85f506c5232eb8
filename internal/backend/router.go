package backend

import (
	"context"
	"fmt"
)

// OperationKind classifies an operation for routing. Instrument metadata
// lives in the relational store, observations in the columnar store.
type OperationKind int

const (
	OpInstrumentMetadata OperationKind = iota
	OpObservations
)

func (k OperationKind) String() string {
	switch k {
	case OpInstrumentMetadata:
		return "instrument_metadata"
	case OpObservations:
		return "observations"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Backend is the surface shared by every storage adapter
type Backend interface {
	Name() string
	Healthy(ctx context.Context) error
}

// Router statically maps operation kinds to storage backends. The mapping is
// fixed at construction and blind to request content.
type Router struct {
	relational *Relational
	series     *TimeSeries
}

// NewRouter builds the static routing table
func NewRouter(relational *Relational, series *TimeSeries) *Router {
	return &Router{relational: relational, series: series}
}

// Route returns the backend serving an operation kind
func (r *Router) Route(kind OperationKind) (Backend, error) {
	switch kind {
	case OpInstrumentMetadata:
		return r.relational, nil
	case OpObservations:
		return r.series, nil
	}
	return nil, fmt.Errorf("no backend registered for operation kind %s", kind)
}

// Metadata returns the relational adapter serving instrument metadata
func (r *Router) Metadata() *Relational {
	b, err := r.Route(OpInstrumentMetadata)
	if err != nil {
		panic(err)
	}
	return b.(*Relational)
}

// Observations returns the columnar adapter serving observation data
func (r *Router) Observations() *TimeSeries {
	b, err := r.Route(OpObservations)
	if err != nil {
		panic(err)
	}
	return b.(*TimeSeries)
}
