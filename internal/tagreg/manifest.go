package tagreg

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// serverSpec is one server entry in a host config or extension manifest.
type serverSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// hostConfig is the desktop-host config shape: {"mcpServers": {name: spec}}.
// Extension manifests nest the same map under "server".
type hostConfig struct {
	MCPServers map[string]serverSpec `json:"mcpServers"`
	Server     struct {
		MCPServers map[string]serverSpec `json:"mcpServers"`
	} `json:"server"`
}

const dirnameToken = "${__dirname}"

// parseConfigFile reads one config or manifest file and returns its
// commandLine -> tag entries.
func parseConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg hostConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	servers := cfg.MCPServers
	if len(servers) == 0 {
		servers = cfg.Server.MCPServers
	}
	if len(servers) == 0 {
		// Fall back to a bare name -> spec map.
		if err := json.Unmarshal(data, &servers); err != nil {
			return nil, fmt.Errorf("parse %s: no server entries", filepath.Base(path))
		}
	}

	dir := filepath.Dir(path)
	out := make(map[string]string, len(servers))
	for name, spec := range servers {
		if spec.Command == "" {
			continue
		}
		cmdline, err := buildCommandLine(spec, dir)
		if err != nil {
			// Entry-level failure skips the entry, not the file.
			continue
		}
		out[cmdline] = name
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse %s: no usable server entries", filepath.Base(path))
	}
	return out, nil
}

// buildCommandLine resolves a server spec to the absolute, launchable command
// line the OS will report for the spawned process.
func buildCommandLine(spec serverSpec, manifestDir string) (string, error) {
	command := strings.ReplaceAll(spec.Command, dirnameToken, manifestDir)
	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = strings.ReplaceAll(a, dirnameToken, manifestDir)
	}

	argv, err := resolveExecutable(command)
	if err != nil {
		return "", err
	}
	argv = append(argv, args...)
	return strings.Join(argv, " "), nil
}

// interpreterFor maps script extensions to their launcher. Scripts are
// spawned through the interpreter, so that is what process-start reports.
var interpreterFor = map[string]string{
	".js":  "node",
	".mjs": "node",
	".py":  "python3",
	".sh":  "sh",
}

func resolveExecutable(command string) ([]string, error) {
	if interp, ok := interpreterFor[filepath.Ext(command)]; ok {
		abs := command
		if !filepath.IsAbs(abs) {
			if a, err := filepath.Abs(abs); err == nil {
				abs = a
			}
		}
		launcher := interp
		if p, err := exec.LookPath(interp); err == nil {
			launcher = p
		}
		return []string{launcher, abs}, nil
	}

	if filepath.IsAbs(command) {
		return []string{command}, nil
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		abs, err := filepath.Abs(command)
		if err != nil {
			return nil, err
		}
		return []string{abs}, nil
	}
	p, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", command, err)
	}
	return []string{p}, nil
}
