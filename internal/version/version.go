// Package version хранит сведения о сборке, которые проставляются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent формирует User-Agent для исходящих HTTP-запросов клиента витрины.
func UserAgent(component string) string {
	return fmt.Sprintf("%s/%s", component, version)
}
