// Package plugin defines the contribution model shared by provider plugins and
// the action router.
//
// A Plugin creates action types (ActionTypeDefinition) and extends types
// created by other plugins (ActionTypeExtension). Each action kind has a fixed
// set of handler types; the typed handler sets (BuildHandlers, DeployHandlers,
// RunHandlers, TestHandlers) give plugins compile-time checked keys while
// HandlerTable serves plugins loaded at runtime.
//
// # Precedence
//
// Plugins are linearized with Order: dependencies come first, otherwise the
// configuration order is kept. When several plugins supply the same handler,
// the last one in that order wins.
//
// # Delegation
//
// A ResolvedHandler links to the next lower-precedence candidate through its
// Base field. When a handler runs, Params.Base is a continuation over that
// link:
//
//	func build(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
//	    res, err := p.Base.Call(ctx)
//	    if err != nil {
//	        return nil, err
//	    }
//	    res.Outputs["extra"] = true
//	    return res, nil
//	}
//
// Delegation may be nested to any depth; each delegated handler receives its
// own Base for the next link.
package plugin
