// Package hook routes named actions to plugin script functions.
//
// Two forms are understood:
//   - plugin.<id>.<function> calls a function of a running plugin directly
//   - registered aliases map an action name to a plugin and function
//
// Example usage:
//
//	router := hook.NewRouter(host)
//	router.Actions().Register("refresh", "weather", "refresh")
//
//	res := router.Dispatch(ctx, hook.Action{Name: "plugin.weather.refresh"})
//	if res.Err != nil {
//	    // handle error
//	}
package hook
