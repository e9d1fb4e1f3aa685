// Package driver implements the Run Coordinator's Driver Gateway: a thin,
// capability-based dispatch layer in front of per-provider Sandbox Driver
// implementations.
//
// # Core Components
//
// Driver: the contract one provider implementation satisfies - create,
// destroy, status, run, stream, and a small filesystem surface
// (readFile/writeFile/listDir/mkdir/rm), plus two optional capabilities
// (getProcessUrls, runCode) gated by CapabilityUnsupported.
//
// Gateway: looks up the Driver registered for a request's provider tag and
// applies a uniform per-operation timeout and optional rate limit before
// calling through, so none of that bookkeeping needs to be duplicated in
// every Driver implementation.
//
// DockerDriver: a real, working driver against the local Docker CLI. This
// is the only provider the Gateway can exercise end to end without network
// access; the rest of a real sandbox-orchestration system's provider
// protocols (modal, e2b, fly, daytona, ...) are out of scope for this
// package.
//
// MockDriver: an in-memory fake used for every other provider tag and by
// the test suite.
package driver
