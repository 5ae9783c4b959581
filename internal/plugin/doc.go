// Package plugin runs sandboxed plugin scripts for the active profile.
//
// Three stores decide what runs:
//
//   - the library (package library) holds installed plugin packages,
//   - the association index (package association) lists the plugins of
//     each profile with an enabled flag,
//   - each plugin's config.json in its profile directory carries a second
//     enabled flag and the plugin settings.
//
// A Host combines them. LoadPluginsForProfile loads every plugin that is
// associated and enabled, installed, and enabled in its config. Each
// running plugin owns a script context (package script) executing on its
// own goroutine and a capability registry (package api) exposed to the
// script as the global api.
//
// # Plugin Structure
//
//	<plugins>/<id>/
//	├── manifest.json
//	└── main.lua        # or main.js
//
// The manifest names the entry script and the permissions the plugin
// needs:
//
//	{
//	  "id": "clock",
//	  "name": "Clock",
//	  "version": "1.0.0",
//	  "main": "main.lua",
//	  "permissions": ["events", "storage"],
//	  "defaultConfig": {"format": "24h"}
//	}
//
// # Lifecycle
//
// The entry script runs once at load, then the host calls the optional
// global functions onLoad, onUnload and onConfigChanged(path, value):
//
//	function onLoad()
//	  api.events.on("tick", function(data) api.core.info("tick " .. data) end)
//	end
//
// Script failures and timeouts are contained in the plugin. A plugin whose
// onLoad fails is disposed and reported through Failures and an
// EventPluginError event; the other plugins keep running.
//
// # Routing
//
// BroadcastEvent and HandleUtterance fan out to eligible plugins
// concurrently, each delivery running on the plugin's own goroutine with
// its own budget. Attach wires association and library changes to
// EnablePlugin, DisablePlugin and ReloadPlugin.
package plugin
