// Package version хранит сведения о сборке, которые подставляются через
// -ldflags "-X github.com/vladislavdragonenkov/storefront-oms/internal/version.version=...".
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown

	readBuildInfo = debug.ReadBuildInfo
	resolveOnce   sync.Once
	resolved      BuildInfo
)

// BuildInfo - сведения о сборке для /api/version и /healthz.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Build возвращает сведения о сборке. Если commit и date не заданы через
// -ldflags, они берутся из VCS-меток, которые go build встраивает сам.
func Build() BuildInfo {
	resolveOnce.Do(func() { resolved = resolve() })
	return resolved
}

// GetVersion возвращает только версию.
func GetVersion() string { return Build().Version }

func String() string { return Build().String() }

func resolve() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, Date: date}
	if info.Commit != unknown && info.Date != unknown {
		return info
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range bi.Settings {
		switch {
		case setting.Key == "vcs.revision" && info.Commit == unknown:
			info.Commit = setting.Value
		case setting.Key == "vcs.time" && info.Date == unknown:
			info.Date = setting.Value
		}
	}
	return info
}
