// Package buildinfo exposes build-time information for cfenv.
//
// Values are injected via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/cfenv-go/internal/infra/buildinfo.Version=v1.2.0"
//
// When no version is injected, the module version recorded by the Go
// toolchain is used if present.
package buildinfo
