// Package utils provides small validation helpers shared across the agent
// CLI registry and role dispatch.
package utils

// IsValidAgentName checks if an agent slug or alias meets the registry's
// basic requirements. Names must be non-empty and not exceed 64 bytes.
func IsValidAgentName(name string) bool {
	return len(name) > 0 && len(name) <= 64
}
