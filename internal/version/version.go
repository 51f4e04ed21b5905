// 包 version：编译期注入的版本信息，供接口与日志输出
package version

// Commit：构建时通过 -ldflags "-X dmarc-geo/internal/version.Commit=..." 注入
var Commit = "dev"
