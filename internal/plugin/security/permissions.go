package security

import (
	"net"
	"sort"
	"strings"
	"sync"
)

// PermissionChecker validates plugin operations against the declared
// permission set and optional network restrictions.
type PermissionChecker struct {
	mu sync.RWMutex

	// Declared permissions (normalized)
	permissions map[Permission]bool

	// Network restrictions (lowercased)
	allowedHosts []string
	blockedHosts []string

	// Plugin identity
	pluginID string
}

// NewPermissionChecker creates a checker for the given declared permissions.
// Names are matched case-insensitively; unknown names are kept so that
// HasPermission reflects exactly what the manifest declared.
func NewPermissionChecker(pluginID string, declared []string) *PermissionChecker {
	pc := &PermissionChecker{
		permissions: make(map[Permission]bool, len(declared)),
		pluginID:    pluginID,
	}
	for _, p := range declared {
		n := Normalize(p)
		if n == "" {
			continue
		}
		pc.permissions[n] = true
	}
	return pc
}

// PluginID returns the plugin the checker belongs to.
func (pc *PermissionChecker) PluginID() string {
	return pc.pluginID
}

// HasPermission returns true if the permission was declared.
func (pc *PermissionChecker) HasPermission(name string) bool {
	n := Normalize(name)
	if n == "" {
		return false
	}
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.permissions[n]
}

// RequirePermission returns a *PermissionDeniedError if the permission was not declared.
func (pc *PermissionChecker) RequirePermission(name string) error {
	if !pc.HasPermission(name) {
		return &PermissionDeniedError{Permission: name, PluginID: pc.pluginID}
	}
	return nil
}

// Permissions returns the declared permissions in sorted order.
func (pc *PermissionChecker) Permissions() []Permission {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	perms := make([]Permission, 0, len(pc.permissions))
	for p := range pc.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// AllowHost adds a host to the allowed network list.
// The host is normalized to lowercase.
func (pc *PermissionChecker) AllowHost(host string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.allowedHosts = append(pc.allowedHosts, strings.ToLower(host))
}

// BlockHost adds a host to the blocked network list.
// The host is normalized to lowercase.
func (pc *PermissionChecker) BlockHost(host string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.blockedHosts = append(pc.blockedHosts, strings.ToLower(host))
}

// CheckNetwork checks if network access to a host is permitted.
func (pc *PermissionChecker) CheckNetwork(host string) error {
	if err := pc.RequirePermission(string(PermissionNetwork)); err != nil {
		return err
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	hostOnly := strings.ToLower(extractHost(host))

	// Blocklist takes precedence
	for _, blocked := range pc.blockedHosts {
		if matchHost(hostOnly, blocked) {
			return &HostBlockedError{Host: hostOnly, Reason: "host is blocked"}
		}
	}

	if len(pc.allowedHosts) > 0 {
		for _, allowed := range pc.allowedHosts {
			if matchHost(hostOnly, allowed) {
				return nil
			}
		}
		return &HostBlockedError{Host: hostOnly, Reason: "host not in allowed list"}
	}

	return nil
}

// HostBlockedError is returned when a network host is rejected by the
// allow/block lists.
type HostBlockedError struct {
	Host   string
	Reason string
}

// Error implements the error interface.
func (e *HostBlockedError) Error() string {
	return "network access to " + e.Host + " denied: " + e.Reason
}

// extractHost extracts the host from a host:port string.
// Handles IPv6 addresses like [::1]:8080 and regular host:port.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}

// matchHost checks if a host matches a pattern (case-insensitive).
// Supports wildcard matching (e.g., "*.example.com").
func matchHost(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if host == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix)
	}

	return false
}
