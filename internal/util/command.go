package util

import "os/exec"

// ResolveCommand returns the executable to run for name. A non-empty
// customPath must itself resolve; otherwise name is looked up in PATH.
// It returns "" when nothing executable is found.
func ResolveCommand(customPath, name string) string {
	target := name
	if customPath != "" {
		target = customPath
	}
	path, err := exec.LookPath(target)
	if err != nil {
		return ""
	}
	if customPath != "" {
		return customPath
	}
	return path
}
