package minion

import (
	"context"
	"os"
	"runtime"

	"github.com/sysinspect/sysinspect/api/types"
)

// SystemTraits returns the minimal "system.*" trait snapshot the Minion
// Registry and Dispatch & Targeting hostname resolution rely on
// (system.hostname / system.hostname.fqdn lookup keys). Richer trait
// collection (network interfaces, OS release, hardware) is a sensor leaf
// module's concern, out of scope for this core.
func SystemTraits() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"system": map[string]any{
			"hostname": hostname,
			"arch":     runtime.GOARCH,
			"os":       runtime.GOOS,
		},
	}
}

// NoRuntime is a Runtime that performs no actual module execution: the
// Lua/WASM/Python module runtimes are external collaborators, out of scope
// here. It reports success so the transport/reactor pipeline can be
// exercised end-to-end without a real module loaded.
type NoRuntime struct{}

func (NoRuntime) Execute(_ context.Context, msg types.MasterMessage) (types.ActionResponse, error) {
	return types.ActionResponse{Retcode: 0, Message: "no runtime configured"}, nil
}
