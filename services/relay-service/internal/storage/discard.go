package storage

import "context"

// Discard drops every write. Useful for disabled persistence and tests.
type Discard struct{}

func (Discard) Put(context.Context, Record) error { return nil }

func (Discard) Delete(context.Context, []byte) error { return nil }

func (Discard) Scan(context.Context, func(Record) error) error { return nil }

func (Discard) Close() error { return nil }
