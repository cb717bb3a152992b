// Package version holds build information injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Populated via -ldflags at build time, e.g.:
//
//	go build -ldflags "-X github.com/quizmill/quizmill/version.GitRelease=v0.3.0 \
//	  -X github.com/quizmill/quizmill/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo reports the Go runtime the binary was built with.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
