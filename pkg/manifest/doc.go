// Package manifest loads plugins declared in YAML, with handlers written in
// Starlark.
//
// A manifest names the plugin, its dependencies, and the action types it
// creates or extends per kind:
//
//	name: container
//	dependencies: [exec]
//	createActionTypes:
//	  Build:
//	    - name: container
//	      base: exec
//	      runtimeOutputsSchema:
//	        type: object
//	        required: [image]
//	      handlers:
//	        build: |
//	          def handler(params, base):
//	              res = base()
//	              res["outputs"]["image"] = params["action"]["name"] + ":latest"
//	              return res
//	        publish: scripts/publish.star
//
// Each handler value is either Starlark source or a path to a .star file
// relative to the manifest. The script defines handler(params) or
// handler(params, base). base() runs the handler the plugin overrides and
// returns its result; it is None when nothing is overridden.
//
// Manifests in a directory are loaded in file name order, which is their
// configuration order for plugin precedence.
package manifest
