package actions

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Firewall rule names. Delete-before-add keeps the actions idempotent on
// redelivery or manual re-run.
const (
	ruleIsolateIn  = "Playbook-Isolate-In"
	ruleIsolateOut = "Playbook-Isolate-Out"
)

func ruleBlockIn(ip string) string  { return "Playbook-Block-IP-In-" + ip }
func ruleBlockOut(ip string) string { return "Playbook-Block-IP-Out-" + ip }

func (r *Registry) isolateHost(ctx context.Context, _ map[string]any) (map[string]any, error) {
	if r.goos == "windows" {
		for _, rule := range []struct{ name, dir string }{
			{ruleIsolateIn, "in"}, {ruleIsolateOut, "out"},
		} {
			r.netshDelete(ctx, rule.name)
			if err := r.netshAdd(ctx, rule.name, rule.dir, "any"); err != nil {
				return nil, err
			}
		}
		return map[string]any{"rules": []string{ruleIsolateIn, ruleIsolateOut}}, nil
	}

	for _, rule := range []struct{ chain, name string }{
		{"INPUT", ruleIsolateIn}, {"OUTPUT", ruleIsolateOut},
	} {
		args := []string{rule.chain, "-m", "comment", "--comment", rule.name, "-j", "DROP"}
		_, _ = r.runner.Run(ctx, "iptables", append([]string{"-D"}, args...)...)
		if err := r.iptables(ctx, append([]string{"-I"}, args...)); err != nil {
			return nil, err
		}
	}
	return map[string]any{"rules": []string{ruleIsolateIn, ruleIsolateOut}}, nil
}

func (r *Registry) unisolateHost(ctx context.Context, _ map[string]any) (map[string]any, error) {
	if r.goos == "windows" {
		r.netshDelete(ctx, ruleIsolateIn)
		r.netshDelete(ctx, ruleIsolateOut)
		return map[string]any{"removed": []string{ruleIsolateIn, ruleIsolateOut}}, nil
	}
	for _, rule := range []struct{ chain, name string }{
		{"INPUT", ruleIsolateIn}, {"OUTPUT", ruleIsolateOut},
	} {
		_, _ = r.runner.Run(ctx, "iptables",
			"-D", rule.chain, "-m", "comment", "--comment", rule.name, "-j", "DROP")
	}
	return map[string]any{"removed": []string{ruleIsolateIn, ruleIsolateOut}}, nil
}

func (r *Registry) killProcess(ctx context.Context, params map[string]any) (map[string]any, error) {
	pid, err := paramInt(params, "pid")
	if err != nil {
		return nil, err
	}

	var res CommandResult
	if r.goos == "windows" {
		res, err = r.runner.Run(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/F")
	} else {
		res, err = r.runner.Run(ctx, "kill", "-9", strconv.Itoa(pid))
	}
	if err != nil {
		return nil, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	if res.Code != 0 {
		combined := strings.ToLower(res.Stderr + " " + res.Stdout)
		// Target exiting on its own between alert and response is fine.
		if strings.Contains(combined, "not found") || strings.Contains(combined, "no such process") {
			return map[string]any{"pid": pid, "result": "already_terminated"}, nil
		}
		return nil, fmt.Errorf("kill pid %d: %s", pid, res.Stderr)
	}
	return map[string]any{"pid": pid, "result": "terminated"}, nil
}

func (r *Registry) blockIP(ctx context.Context, params map[string]any) (map[string]any, error) {
	ip, err := paramString(params, "ip")
	if err != nil {
		return nil, err
	}

	if r.goos == "windows" {
		for _, rule := range []struct{ name, dir string }{
			{ruleBlockIn(ip), "in"}, {ruleBlockOut(ip), "out"},
		} {
			r.netshDelete(ctx, rule.name)
			if err := r.netshAdd(ctx, rule.name, rule.dir, ip); err != nil {
				return nil, err
			}
		}
		return map[string]any{"ip": ip, "rules": []string{ruleBlockIn(ip), ruleBlockOut(ip)}}, nil
	}

	for _, args := range blockArgs(ip) {
		_, _ = r.runner.Run(ctx, "iptables", append([]string{"-D"}, args...)...)
		if err := r.iptables(ctx, append([]string{"-I"}, args...)); err != nil {
			return nil, err
		}
	}
	return map[string]any{"ip": ip, "rules": []string{ruleBlockIn(ip), ruleBlockOut(ip)}}, nil
}

func (r *Registry) unblockIP(ctx context.Context, params map[string]any) (map[string]any, error) {
	ip, err := paramString(params, "ip")
	if err != nil {
		return nil, err
	}
	if r.goos == "windows" {
		r.netshDelete(ctx, ruleBlockIn(ip))
		r.netshDelete(ctx, ruleBlockOut(ip))
	} else {
		for _, args := range blockArgs(ip) {
			_, _ = r.runner.Run(ctx, "iptables", append([]string{"-D"}, args...)...)
		}
	}
	return map[string]any{"ip": ip, "result": "unblocked"}, nil
}

func blockArgs(ip string) [][]string {
	return [][]string{
		{"INPUT", "-s", ip, "-m", "comment", "--comment", ruleBlockIn(ip), "-j", "DROP"},
		{"OUTPUT", "-d", ip, "-m", "comment", "--comment", ruleBlockOut(ip), "-j", "DROP"},
	}
}

// quarantineFile moves the file into the quarantine directory under a
// name derived from the original path, so the rollback can restore it and
// repeated quarantines of the same path collide predictably.
func (r *Registry) quarantineFile(_ context.Context, params map[string]any) (map[string]any, error) {
	path, err := paramString(params, "path")
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.quarantineDir, 0o700); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	sum := sha1.Sum([]byte(path))
	dest := filepath.Join(r.quarantineDir,
		fmt.Sprintf("%s.%s.quar", filepath.Base(path), hex.EncodeToString(sum[:])[:8]))

	if err := os.Rename(path, dest); err != nil {
		return nil, fmt.Errorf("quarantine %s: %w", path, err)
	}
	return map[string]any{"path": path, "quarantine_path": dest}, nil
}

func (r *Registry) restoreFile(_ context.Context, params map[string]any) (map[string]any, error) {
	path, err := paramString(params, "path")
	if err != nil {
		return nil, err
	}
	qpath, err := paramString(params, "quarantine_path")
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(qpath); os.IsNotExist(err) {
		return map[string]any{"path": path, "result": "not_in_quarantine"}, nil
	}
	if err := os.Rename(qpath, path); err != nil {
		return nil, fmt.Errorf("restore %s: %w", path, err)
	}
	return map[string]any{"path": path, "result": "restored"}, nil
}

func (r *Registry) netshAdd(ctx context.Context, name, dir, remoteIP string) error {
	res, err := r.runner.Run(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name, "dir="+dir, "action=block", "remoteip="+remoteIP)
	if err != nil {
		return fmt.Errorf("add firewall rule %s: %w", name, err)
	}
	if res.Code != 0 {
		return fmt.Errorf("add firewall rule %s: %s", name, res.Stderr)
	}
	return nil
}

// netshDelete is best-effort: a missing rule is the normal case.
func (r *Registry) netshDelete(ctx context.Context, name string) {
	_, _ = r.runner.Run(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
}

func (r *Registry) iptables(ctx context.Context, args []string) error {
	res, err := r.runner.Run(ctx, "iptables", args...)
	if err != nil {
		return fmt.Errorf("iptables %s: %w", strings.Join(args, " "), err)
	}
	if res.Code != 0 {
		return fmt.Errorf("iptables %s: %s", strings.Join(args, " "), res.Stderr)
	}
	return nil
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing param %q", key)
	}
	s := fmt.Sprint(v)
	if s == "" {
		return "", fmt.Errorf("empty param %q", key)
	}
	return s, nil
}

func paramInt(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("param %q is not an integer: %q", key, v)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing param %q", key)
	default:
		return 0, fmt.Errorf("param %q has unsupported type %T", key, v)
	}
}
