// Package zknamespace is a pure-function module mapping Treadmill domain
// concepts onto string paths in the coordination store. No subsystem should
// build a store path by hand; everything goes through these builders so the
// layout in spec.md section 6 stays a single source of truth.
package zknamespace

import "fmt"

const (
	// TraceShards is the fixed number of trace subtrees.
	TraceShards = 256
)

func Cell() string { return "/cell" }

// BucketsRoot is the parent of every bucket node, used to list bucket
// names.
func BucketsRoot() string { return "/buckets" }

func Bucket(name string) string { return "/buckets/" + name }

// ServersRoot is the parent of every server node, used to list server
// names.
func ServersRoot() string { return "/servers" }

func Server(name string) string { return "/servers/" + name }

func ServerPresence(name string) string { return "/server.presence/" + name }

// ServerPresenceRoot is the parent of every server's ephemeral presence
// node, used to list which servers currently report presence.
func ServerPresenceRoot() string { return "/server.presence" }

func Placement(server string) string { return "/placement/" + server }

func PlacementApp(server, app string) string { return "/placement/" + server + "/" + app }

// PartitionsRoot is the parent of every partition node, used to list
// partition labels.
func PartitionsRoot() string { return "/partitions" }

func Partition(name string) string { return "/partitions/" + name }

func Allocations() string { return "/allocations" }

// ScheduledRoot is the parent of every scheduled instance node (flat, one
// child per "proid.app#NNNNNNNNNN" instance), used to list every
// currently scheduled instance.
func ScheduledRoot() string { return "/scheduled" }

func Scheduled(app string) string { return "/scheduled/" + app }

func Running(app string) string { return "/running/" + app }

// Endpoint builds the ephemeral endpoint path for a proid/app/proto/port
// advertisement: /endpoints/<proid>/<app>.<cell>#<id>:<proto>:<name>.
func Endpoint(proid, app, cell, instanceID, proto, name string) string {
	return fmt.Sprintf("/endpoints/%s/%s.%s#%s:%s:%s", proid, app, cell, instanceID, proto, name)
}

// IdentityGroupsRoot is the parent of every identity-group node, used to
// list group names.
func IdentityGroupsRoot() string { return "/identity-groups" }

func IdentityGroup(name string) string { return "/identity-groups/" + name }

func BlackedOutServer(name string) string { return "/blackedout.servers/" + name }

func BlackedOutApp(app string) string { return "/blackedout.apps/" + app }

// AppMonitorsRoot is the parent of every monitor node, used to list
// monitor names.
func AppMonitorsRoot() string { return "/app-monitors" }

func AppMonitor(name string) string { return "/app-monitors/" + name }

func AppGroupLookup(proid, sha1hex string) string {
	return "/appgroup-lookups/" + proid + "/" + sha1hex
}

func AppGroupLookupRoot(proid string) string { return "/appgroup-lookups/" + proid }

func Reports() string { return "/reports" }

func ReportServers() string { return "/reports/servers" }

func ReportAllocations() string { return "/reports/allocations" }

func ReportApps() string { return "/reports/apps" }

func Election(role string) string { return "/election/" + role }

// TraceShard returns the 4-hex-digit shard for an instance id, computed as
// instance_id mod 256.
func TraceShard(instanceID int) string {
	return fmt.Sprintf("%04x", instanceID%TraceShards)
}

// Trace builds the path for one trace event under its shard.
func Trace(instanceID int, appname, event string) string {
	return fmt.Sprintf("/trace/%s/%s,%s", TraceShard(instanceID), appname, event)
}
