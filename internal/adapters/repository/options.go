package repository

import "github.com/okian/proctor/pkg/logger"

// Option applies a configuration option to the BadgerStore.
type Option func(*BadgerStore)

// WithInMemory keeps all data in memory. Used by tests and the simulator.
func WithInMemory() Option {
	return func(s *BadgerStore) { s.inMemory = true }
}

// WithDir sets the on-disk data directory.
func WithDir(dir string) Option {
	return func(s *BadgerStore) {
		if dir != "" {
			s.dir = dir
		}
	}
}

// WithLogger routes badger's internal logging through l.
func WithLogger(l logger.Logger) Option {
	return func(s *BadgerStore) { s.log = l }
}

// WithConflictRetries sets how many times a conflicting transaction is retried.
func WithConflictRetries(n int) Option {
	return func(s *BadgerStore) {
		if n >= 0 {
			s.retries = n
		}
	}
}
