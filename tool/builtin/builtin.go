// Package builtin provides a small set of tools that need no external service
// and can be bound to any run as static tools.
package builtin

import (
	"github.com/hupe1980/agentrun/tool"
)

// Identifiers under which Register binds the builtin tools.
const (
	CalculatorID  = "calculator"
	CurrentTimeID = "current_time"
)

// Register binds every builtin tool to r.
func Register(r *tool.Registry) {
	r.RegisterTool(CalculatorID, NewCalculator())
	r.RegisterTool(CurrentTimeID, NewCurrentTime())
}
