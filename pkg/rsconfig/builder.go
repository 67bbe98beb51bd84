package rsconfig

import (
	"github.com/cuemby/replicactl/pkg/types"
)

// Fresh builds the version-1 configuration for a brand new replica set.
// Members get sequential ids 0..n-1 in the order the ips are given.
func Fresh(setName string, ips []string, port int) types.ReplicaSetConfig {
	members := make([]types.MemberSpec, 0, len(ips))
	for i, ip := range ips {
		members = append(members, types.MemberSpec{
			ID:   uint32(i),
			Host: types.HostPort(ip, port),
		})
	}
	return types.ReplicaSetConfig{
		SetName: setName,
		Version: 1,
		Members: members,
	}
}

// Mutate derives the next configuration from an existing one: members whose
// host-ip appears in toRemove are dropped, members for the ips in toAdd are
// appended with ids continuing past the highest surviving id, and the
// version is bumped. Surviving members keep their ids and ids stay unique
// within the config; an id freed by removing the highest-numbered member
// (or every member, which restarts ids at 0) can be assigned again. The set
// name and term are never touched. toAdd must be in a deterministic order;
// the caller sorts.
func Mutate(existing types.ReplicaSetConfig, toRemove, toAdd []string, port int) types.ReplicaSetConfig {
	removed := make(map[string]struct{}, len(toRemove))
	for _, ip := range toRemove {
		removed[ip] = struct{}{}
	}

	members := make([]types.MemberSpec, 0, len(existing.Members)+len(toAdd))
	for _, m := range existing.Members {
		if _, drop := removed[types.HostIP(m.Host)]; drop {
			continue
		}
		members = append(members, m)
	}

	var next uint32
	for _, m := range members {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	for _, ip := range toAdd {
		members = append(members, types.MemberSpec{
			ID:   next,
			Host: types.HostPort(ip, port),
		})
		next++
	}

	return types.ReplicaSetConfig{
		SetName: existing.SetName,
		Version: existing.Version + 1,
		Members: members,
	}
}
