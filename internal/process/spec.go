package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/fleetsup/internal/logger"
)

// Credential is the numeric identity a service is spawned under.
type Credential struct {
	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`
}

// Spec describes how to spawn one service process.
type Spec struct {
	Name       string        `json:"name"`
	Command    string        `json:"command"`
	WorkDir    string        `json:"work_dir"`
	Env        []string      `json:"env"`
	PIDFile    string        `json:"pid_file"`
	Credential *Credential   `json:"credential,omitempty"` // nil runs as the supervisor's user
	Log        logger.Config `json:"log"`
}

// BuildCommand turns Command into an *exec.Cmd. Plain commands are split on
// whitespace; commands with shell metacharacters, or that already read
// "sh -c ...", are run through the platform shell exactly once.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell matches "sh -c <script>" style prefixes and returns the
// script with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
