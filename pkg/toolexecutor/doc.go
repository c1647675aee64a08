// Package toolexecutor runs the live tools an agent falls back to when
// the memory cache cannot answer.
//
// Tools are registered once by name with a parameter list. Every call is
// checked against a JSON schema built from that list, bounded by the
// executor timeout, and its output is capped at MaxOutputSize.
//
// The executor's Call method matches agent.ToolCaller, so it plugs
// straight into the cache-aware agent:
//
//	tools := toolexecutor.New(toolexecutor.Config{Logger: logger})
//	_ = coretools.RegisterCoreTools(tools, coretools.Options{WorkspaceRoot: "."})
//	out, err := tools.Call(ctx, "read_file", map[string]interface{}{"path": "go.mod"})
package toolexecutor
