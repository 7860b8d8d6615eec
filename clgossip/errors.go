package clgossip

import (
	"errors"
	"fmt"

	"github.com/stakewithus/CasperLabs/clblock"
	"github.com/stakewithus/CasperLabs/clp2p"
)

// ErrAlreadyShutDown is returned by [DownloadManager.ScheduleDownload]
// once shutdown has begun.
var ErrAlreadyShutDown = errors.New("download manager already shut down")

// MissingDependenciesError reports a scheduling order violation:
// the scheduled block has dependencies that are neither stored
// nor scheduled. Callers must schedule in topological order.
type MissingDependenciesError struct {
	BlockHash clblock.Hash
	Missing   []clblock.Hash
}

func (e *MissingDependenciesError) Error() string {
	return fmt.Sprintf(
		"block %v has %d missing dependencies (first: %v); dependencies must be scheduled or stored first",
		e.BlockHash, len(e.Missing), e.Missing[0],
	)
}

// InvalidChunksError reports a violation of the chunked transfer
// wire contract by a particular peer.
type InvalidChunksError struct {
	Reason string
	Source clp2p.Node
}

func (e *InvalidChunksError) Error() string {
	return fmt.Sprintf("invalid chunk stream from %v: %s", e.Source, e.Reason)
}

// ConfigurationError reports an unusable configuration value.
// Configuration errors are fatal: they are never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether any error in err's chain
// is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
