package iac

import (
	"fmt"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Inline program registry. Plugins whose manifest declares the inline
// runtime run a program compiled into this binary instead of a
// materialized working tree.

var (
	programsMu sync.RWMutex
	programs   = map[string]pulumi.RunFunc{}
)

// RegisterProgram registers an inline program under a plugin id. Called
// from init functions of built-in blueprints.
func RegisterProgram(pluginID string, program pulumi.RunFunc) {
	programsMu.Lock()
	defer programsMu.Unlock()
	programs[pluginID] = program
}

// LookupProgram resolves the inline program for a plugin id.
func LookupProgram(pluginID string) (pulumi.RunFunc, error) {
	programsMu.RLock()
	defer programsMu.RUnlock()

	program, ok := programs[pluginID]
	if !ok {
		return nil, fmt.Errorf("no inline program registered for plugin %s", pluginID)
	}
	return program, nil
}
