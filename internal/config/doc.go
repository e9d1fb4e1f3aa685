// Package config loads the Run Coordinator's ambient process configuration:
// per-provider credentials pulled from the environment (and an optional
// .env file), and a hot-reloadable table of per-provider default sandbox
// images read from a YAML file. Neither is the web-facing "define a
// service" configuration system the core orchestration logic excludes -
// this is the handful of knobs the process itself needs at boot and
// across its lifetime.
package config
