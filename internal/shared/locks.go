package shared

import "fmt"

// StatusRecomputeLockKey is the redis key guarding a single recompute run at a time.
func StatusRecomputeLockKey(scope string) string {
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("customers:status:recompute:%s:lock", scope)
}
