package daemon

import "path/filepath"

func runDir(home string) string {
	return filepath.Join(home, "run")
}

func pidPath(home string) string {
	return filepath.Join(runDir(home), "rove.pid")
}

func lockPath(home string) string {
	return filepath.Join(runDir(home), "rove.lock")
}

func addrPath(home string) string {
	return filepath.Join(runDir(home), "rove.addr")
}

func logPath(home string) string {
	return filepath.Join(runDir(home), "rove.log")
}
