package types

import (
	"fmt"
	"sort"
)

// TaskAddress identifies one running task of the database service together
// with its address on the overlay network. Recomputed on every tick; never
// cached between ticks.
type TaskAddress struct {
	TaskID        string
	NodeID        string
	ContainerStem string // container name segment before the first '.'
	IP            string // overlay address with any CIDR suffix stripped
}

// MemberSpec is one member entry of a replica-set configuration. IDs are
// unique within a configuration and a member keeps its id while it stays.
type MemberSpec struct {
	ID   uint32 `bson:"_id" json:"_id"`
	Host string `bson:"host" json:"host"` // "ip:port"
}

// ReplicaSetConfig is the subset of a replSetGetConfig document the
// controller reads and rewrites. The server owns every other field,
// including term.
type ReplicaSetConfig struct {
	SetName string       `bson:"_id" json:"_id"`
	Version uint32       `bson:"version" json:"version"`
	Members []MemberSpec `bson:"members" json:"members"`
}

// MemberIPs returns the host-ip of every member, sorted.
func (c ReplicaSetConfig) MemberIPs() []string {
	ips := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ips = append(ips, HostIP(m.Host))
	}
	sort.Strings(ips)
	return ips
}

// HostIP strips the port from an "ip:port" member host.
func HostIP(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// HostPort joins an ip and port into a member host string.
func HostPort(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// NodeState tags a NodeStatus variant.
type NodeState string

const (
	// NodeUnreachable: network error or timeout.
	NodeUnreachable NodeState = "unreachable"
	// NodeUninitialized: hello succeeded but reported no set name.
	NodeUninitialized NodeState = "uninitialized"
	// NodeNotYetInitialized: replSetGetConfig failed with server code 94.
	NodeNotYetInitialized NodeState = "not-yet-initialized"
	// NodeAuthNotReady: an authenticated call failed with an authentication
	// error while the node itself is reachable. Seen in the window between
	// container start and root-user creation.
	NodeAuthNotReady NodeState = "auth-not-ready"
	// NodeMember: hello reported a set name.
	NodeMember NodeState = "member"
	// NodeConfigured: an authenticated replSetGetConfig read succeeded.
	NodeConfigured NodeState = "configured"
)

// NodeStatus is the classified result of probing a single database member.
// Exactly one variant applies; Config is set only for NodeConfigured and the
// Member fields only for NodeMember.
type NodeStatus struct {
	State             NodeState
	SetName           string
	IsWritablePrimary bool
	PrimaryHost       string
	Config            *ReplicaSetConfig
	Err               error
}

// Phase is the controller's coarse lifecycle state. Only PhaseWatching is
// permanent; every other phase is transient within one startup pass.
type Phase string

const (
	PhaseWaiting       Phase = "waiting"
	PhaseClassifying   Phase = "classifying"
	PhaseInitiating    Phase = "initiating"
	PhaseReconfiguring Phase = "reconfiguring"
	PhaseWatching      Phase = "watching"
)
