package entity

import (
	"context"
	"errors"
)

// Sink receives entity lifecycle events and state writes. Implementations stand in
// for the host platform's entity registry and state machine.
type Sink interface {
	Register(ctx context.Context, b *Binding) error
	Unregister(ctx context.Context, b *Binding) error
	Write(ctx context.Context, s State) error
}

// MultiSink fans every call out to all sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Register(ctx context.Context, b *Binding) error {
	var errs []error
	for _, s := range m {
		if err := s.Register(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Unregister(ctx context.Context, b *Binding) error {
	var errs []error
	for _, s := range m {
		if err := s.Unregister(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Write(ctx context.Context, st State) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
