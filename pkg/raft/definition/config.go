package definition

import "github.com/raftkit/raftnet/pkg/raft/types"

// Default configuration values (§6.2, §6.4).
const (
	DefaultElectionMinMillis = 150
	DefaultElectionMaxMillis = 350
	DefaultHeartbeatMillis   = 60
	DefaultMaxConnections    = 128
)

// DefaultTimeoutConfiguration returns the configuration described in §6.2.
func DefaultTimeoutConfiguration() types.TimeoutConfiguration {
	return types.TimeoutConfiguration{
		ElectionMinMillis: DefaultElectionMinMillis,
		ElectionMaxMillis: DefaultElectionMaxMillis,
		HeartbeatMillis:   DefaultHeartbeatMillis,
	}
}
