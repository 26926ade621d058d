// Package router decides which plugin's handler runs for an action and runs it.
//
// A Router is built once from an ordered plugin list. Plugins are linearized
// so that every plugin follows its dependencies; a later plugin takes
// precedence over an earlier one. Resolution for (kind, type, handler type)
// scans the plugins that created or extended the type from highest to lowest
// precedence, then repeats the scan on the type's base, its base's base, and
// so on. Every handler found is a link in one chain: the first link runs and
// each link can call the next one through Params.Base.
//
// CallHandler wraps the first link with lifecycle events, metrics and a trace
// span, then validates the result's outputs against the type's output schema
// merged with its ancestors' schemas.
//
//	r, err := router.New(plugins, router.WithTelemetry(tel))
//	if err != nil {
//	    return err
//	}
//	res, err := r.CallHandler(ctx, router.Call{
//	    HandlerType: plugin.HandlerBuild,
//	    Params:      plugin.Params{Action: action},
//	})
package router
