// Package coordinator implements the Run Coordinator: the state machine
// owning run lifecycle. It validates requests, allocates a Run, launches
// one Preparation Pipeline per requested provider concurrently, hands
// each prepared provider off to an Iteration Engine, aggregates
// per-provider status into the run's overall status, and tears every
// sandbox down on stop.
package coordinator
