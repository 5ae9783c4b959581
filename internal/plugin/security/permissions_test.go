package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermissionCaseInsensitive(t *testing.T) {
	pc := NewPermissionChecker("p", []string{"Storage", "EVENTS"})

	assert.True(t, pc.HasPermission("storage"))
	assert.True(t, pc.HasPermission("STORAGE"))
	assert.True(t, pc.HasPermission("events"))
	assert.False(t, pc.HasPermission("network"))
	assert.False(t, pc.HasPermission(""))
	assert.False(t, pc.HasPermission("stor"))
}

func TestRequirePermission(t *testing.T) {
	pc := NewPermissionChecker("demo", []string{"storage"})

	require.NoError(t, pc.RequirePermission("storage"))

	err := pc.RequirePermission("network")
	require.Error(t, err)

	var denied *PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "network", denied.Permission)
	assert.Equal(t, "demo", denied.PluginID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestPermissionsSorted(t *testing.T) {
	pc := NewPermissionChecker("p", []string{"window", "audio", " ", "Audio"})
	assert.Equal(t, []Permission{PermissionAudio, PermissionWindow}, pc.Permissions())
}

func TestCheckNetwork(t *testing.T) {
	tests := []struct {
		name    string
		perms   []string
		allow   []string
		block   []string
		host    string
		wantErr bool
	}{
		{name: "no permission", host: "example.com", wantErr: true},
		{name: "permitted", perms: []string{"network"}, host: "example.com:443"},
		{name: "blocked", perms: []string{"network"}, block: []string{"example.com"}, host: "example.com", wantErr: true},
		{name: "wildcard blocked", perms: []string{"network"}, block: []string{"*.internal"}, host: "db.internal:5432", wantErr: true},
		{name: "not allowed", perms: []string{"network"}, allow: []string{"api.example.com"}, host: "other.com", wantErr: true},
		{name: "allowed", perms: []string{"network"}, allow: []string{"api.example.com"}, host: "API.example.com"},
		{name: "ipv6", perms: []string{"network"}, block: []string{"::1"}, host: "[::1]:8080", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := NewPermissionChecker("p", tt.perms)
			for _, h := range tt.allow {
				pc.AllowHost(h)
			}
			for _, h := range tt.block {
				pc.BlockHost(h)
			}
			err := pc.CheckNetwork(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPermissionInfo(t *testing.T) {
	for _, p := range AllPermissions() {
		info, ok := GetPermissionInfo(p)
		require.True(t, ok, p)
		assert.Equal(t, p, info.Name)
		assert.NotEmpty(t, info.DisplayName)
	}
	assert.True(t, IsKnownPermission("Overlay"))
	assert.False(t, IsKnownPermission("shell"))
	assert.Len(t, AllPermissions(), 7)
}
