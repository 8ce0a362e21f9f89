package htcore

import "github.com/docker/go-units"

// ParseSize parses a human-readable byte size ("64KiB", "1MB", "65536")
// into an int suitable for EngineConfig.ReadBufferSize, so a config file can
// spell out buffer sizes the way docker-compose's resource limits do
// instead of this module inventing its own suffix grammar. Suffixes are
// binary multiples with or without the "i": "1MB" and "1MiB" are both 1048576.
func ParseSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, newErr("ParseSize", KindProtocol, "invalid size string", err)
	}
	return int(n), nil
}

// WithReadBufferSize parses size with ParseSize and returns cfg with
// ReadBufferSize set accordingly — the entry point for config files or
// flags that spell out buffer sizes as strings instead of raw ints.
func (c EngineConfig) WithReadBufferSize(size string) (EngineConfig, error) {
	n, err := ParseSize(size)
	if err != nil {
		return c, err
	}
	c.ReadBufferSize = n
	return c, nil
}
