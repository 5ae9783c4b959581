// Package api implements the capability surface exposed to plugin scripts.
//
// A Registry is built from a plugin's manifest. Core, Config and Profile are
// always present; every other capability exists only when the matching
// permission was declared:
//
//	audio   -> Speech
//	overlay -> Overlay
//	player  -> Player
//	window  -> Window
//	storage -> Storage
//	network -> HTTP
//	events  -> Events
//
// Gated accessors return nil for undeclared permissions, and Namespace
// builds the script-visible api object with the same members.
//
// Capabilities that reach the outside world (Player, Window, Overlay,
// Speech) talk to optional providers. With no provider attached they keep
// headless defaults so plugins run unchanged in tests and the CLI.
package api
