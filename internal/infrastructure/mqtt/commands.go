package mqtt

import "fmt"

// StopFunc stops the unit key in registry. It reports whether the
// registry is known.
type StopFunc func(registry, key string) bool

// StopCommandHandler returns a handler for AllStopCommands that calls
// stop for every well-formed command topic. The payload is ignored.
func StopCommandHandler(stop StopFunc) MessageHandler {
	return func(topic string, _ []byte) error {
		registry, key, ok := ParseStopCommand(topic)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidCommand, topic)
		}
		if !stop(registry, key) {
			return fmt.Errorf("%w: unknown registry %q", ErrInvalidCommand, registry)
		}
		return nil
	}
}
