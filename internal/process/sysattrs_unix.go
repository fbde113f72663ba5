//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so the whole
// tree can be signalled, and drops privileges when running as root.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{Setpgid: true}
	if spec.Credential != nil && os.Geteuid() == 0 {
		attrs.Credential = &syscall.Credential{Uid: spec.Credential.UID, Gid: spec.Credential.GID}
	}
	cmd.SysProcAttr = attrs
}
