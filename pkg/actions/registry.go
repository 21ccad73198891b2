package actions

import (
	"runtime"

	"github.com/sentinelops/backplane/pkg/playbook"
)

// Config selects the execution surface for the registry.
type Config struct {
	// Runner executes host commands; defaults to ExecRunner.
	Runner Runner
	// GOOS picks the command dialect (netsh/taskkill vs iptables/kill);
	// defaults to the build platform.
	GOOS string
	// QuarantineDir receives quarantined files.
	QuarantineDir string
}

// Registry maps catalog action names to their implementations and
// rollbacks. isolate_host is the only privileged action.
type Registry struct {
	runner        Runner
	goos          string
	quarantineDir string

	actions    map[string]playbook.ActionFunc
	rollbacks  map[string]playbook.ActionFunc
	privileged map[string]bool
}

// NewRegistry builds the registry with the four built-in actions.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		runner:        cfg.Runner,
		goos:          cfg.GOOS,
		quarantineDir: cfg.QuarantineDir,
		actions:       map[string]playbook.ActionFunc{},
		rollbacks:     map[string]playbook.ActionFunc{},
		privileged:    map[string]bool{"isolate_host": true},
	}
	if r.runner == nil {
		r.runner = ExecRunner{}
	}
	if r.goos == "" {
		r.goos = runtime.GOOS
	}

	r.register("isolate_host", r.isolateHost, r.unisolateHost)
	r.register("kill_process", r.killProcess, nil)
	r.register("block_ip", r.blockIP, r.unblockIP)
	r.register("quarantine_file", r.quarantineFile, r.restoreFile)
	return r
}

func (r *Registry) register(name string, action, rollback playbook.ActionFunc) {
	r.actions[name] = action
	if rollback != nil {
		r.rollbacks[name] = rollback
	}
}

// Action implements playbook.ActionRegistry.
func (r *Registry) Action(name string) (playbook.ActionFunc, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Rollback implements playbook.ActionRegistry.
func (r *Registry) Rollback(name string) (playbook.ActionFunc, bool) {
	fn, ok := r.rollbacks[name]
	return fn, ok
}

// Privileged implements playbook.ActionRegistry.
func (r *Registry) Privileged(name string) bool { return r.privileged[name] }
