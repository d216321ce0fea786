package versioning

import "gorm.io/gorm/schema"

// DefaultTableSuffix is appended to the snake-cased entity name to form the history table name.
const DefaultTableSuffix = "_versions"

type settings struct {
	namer       schema.Namer
	tableSuffix string
	observer    Observer
}

// Option configures derivation and tracking.
type Option func(*settings)

// WithNamer sets the naming strategy used to snake-case derived table and column names.
func WithNamer(namer schema.Namer) Option {
	return func(s *settings) {
		if namer != nil {
			s.namer = namer
		}
	}
}

// WithTableSuffix sets the suffix of derived history table names.
func WithTableSuffix(suffix string) Option {
	return func(s *settings) {
		if suffix != "" {
			s.tableSuffix = suffix
		}
	}
}

// WithObserver reports engine activity to o.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		namer:       schema.NamingStrategy{},
		tableSuffix: DefaultTableSuffix,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
