package models

import "fmt"

// ActorKey scopes a bucket to one actor acting within one tenant.
func ActorKey(scope, tenantID, actorID string) string {
	return fmt.Sprintf("rl:%s:tenant:%s:actor:%s", scope, tenantID, actorID)
}

// IPKey scopes a bucket to a client address.
func IPKey(scope, ip string) string {
	return fmt.Sprintf("rl:%s:ip:%s", scope, ip)
}
