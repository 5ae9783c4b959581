// Package security provides security primitives for the plugin system.
//
// Plugins declare permissions in their manifest. Each gated capability of the
// plugin API maps to exactly one permission:
//
//   - audio: speech recognition callbacks and text-to-speech
//   - overlay: drawing on the overlay surface
//   - player: playback control
//   - window: window control
//   - storage: persisted key/value storage
//   - network: HTTP requests
//   - events: the host event bus
//
// Permission names are matched case-insensitively. The PermissionChecker
// answers HasPermission queries and produces a typed PermissionDeniedError
// from RequirePermission. Network access can further be restricted with host
// allow and block lists:
//
//	checker := security.NewPermissionChecker("my-plugin", []string{"network"})
//	checker.BlockHost("*.internal.example")
//
//	if err := checker.CheckNetwork("api.example.com:443"); err != nil {
//	    // Access denied
//	}
package security
