package plugin

// BuildHandlers is the typed handler set for Build action types.
type BuildHandlers struct {
	Configure  Handler
	Validate   Handler
	GetOutputs Handler
	GetStatus  Handler
	Build      Handler
	Publish    Handler
}

// Handlers implements HandlerSet.
func (h BuildHandlers) Handlers() map[HandlerType]Handler {
	return compact(map[HandlerType]Handler{
		HandlerConfigure:  h.Configure,
		HandlerValidate:   h.Validate,
		HandlerGetOutputs: h.GetOutputs,
		HandlerGetStatus:  h.GetStatus,
		HandlerBuild:      h.Build,
		HandlerPublish:    h.Publish,
	})
}

// DeployHandlers is the typed handler set for Deploy action types.
type DeployHandlers struct {
	Configure  Handler
	Validate   Handler
	GetOutputs Handler
	GetStatus  Handler
	Deploy     Handler
	Delete     Handler
	Exec       Handler
	GetLogs    Handler
}

// Handlers implements HandlerSet.
func (h DeployHandlers) Handlers() map[HandlerType]Handler {
	return compact(map[HandlerType]Handler{
		HandlerConfigure:  h.Configure,
		HandlerValidate:   h.Validate,
		HandlerGetOutputs: h.GetOutputs,
		HandlerGetStatus:  h.GetStatus,
		HandlerDeploy:     h.Deploy,
		HandlerDelete:     h.Delete,
		HandlerExec:       h.Exec,
		HandlerGetLogs:    h.GetLogs,
	})
}

// RunHandlers is the typed handler set for Run action types.
type RunHandlers struct {
	Configure  Handler
	Validate   Handler
	GetOutputs Handler
	GetResult  Handler
	Run        Handler
}

// Handlers implements HandlerSet.
func (h RunHandlers) Handlers() map[HandlerType]Handler {
	return compact(map[HandlerType]Handler{
		HandlerConfigure:  h.Configure,
		HandlerValidate:   h.Validate,
		HandlerGetOutputs: h.GetOutputs,
		HandlerGetResult:  h.GetResult,
		HandlerRun:        h.Run,
	})
}

// TestHandlers is the typed handler set for Test action types.
type TestHandlers struct {
	Configure  Handler
	Validate   Handler
	GetOutputs Handler
	GetResult  Handler
	Run        Handler
}

// Handlers implements HandlerSet.
func (h TestHandlers) Handlers() map[HandlerType]Handler {
	return compact(map[HandlerType]Handler{
		HandlerConfigure:  h.Configure,
		HandlerValidate:   h.Validate,
		HandlerGetOutputs: h.GetOutputs,
		HandlerGetResult:  h.GetResult,
		HandlerRun:        h.Run,
	})
}

// compact drops unset handlers.
func compact(m map[HandlerType]Handler) map[HandlerType]Handler {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	return m
}
