// Package version хранит сведения о сборке, которые задаются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/tableorders/internal/version.version=v1.2.3
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о текущем бинарнике.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Get возвращает сведения о сборке. Если commit не передан через ldflags,
// берётся vcs.revision из debug.BuildInfo.
func Get() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit == "unknown" {
		if rev, ok := vcsRevision(); ok {
			b.Commit = rev
		}
	}
	return b
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields отдаёт сведения о сборке в виде полей logrus.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}

func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return setting.Value, true
		}
	}
	return "", false
}
