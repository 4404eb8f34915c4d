package actio

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// Close releases resources held by the injector: Ready local instances and
// leaf handlers that implement io.Closer, instances first, each group in
// reverse order. Errors are aggregated. Resolve fails after Close.
func (inj *Injector) Close() error {
	inj.mu.Lock()
	if inj.closed {
		inj.mu.Unlock()
		return nil
	}
	inj.closed = true
	inj.mu.Unlock()

	var err error

	instances := inj.records.values()
	for i := len(instances) - 1; i >= 0; i-- {
		if c, ok := instances[i].(io.Closer); ok {
			if cErr := c.Close(); cErr != nil {
				err = multierr.Append(err, fmt.Errorf("close %T: %w", instances[i], cErr))
			}
		}
	}

	handlers := inj.handlers.all()
	for i := len(handlers) - 1; i >= 0; i-- {
		if c, ok := handlers[i].(io.Closer); ok {
			if cErr := c.Close(); cErr != nil {
				err = multierr.Append(err, fmt.Errorf("close leaf handler %s: %w", handlers[i].TypeName(), cErr))
			}
		}
	}

	inj.records.clear()
	return err
}
