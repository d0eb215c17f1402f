package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入。Version 同时作为更新通知中的版本号。
var (
	Version = "2025.12.04"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("clock-cache %s (%s)", Version, Commit)
}
