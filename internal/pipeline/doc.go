// Package pipeline implements the Preparation Pipeline: the nine steps the
// Run Coordinator drives, once per provider, from an empty sandbox to a
// reachable agent server.
//
//	create_sandbox -> install_tooling -> clone_repo -> detect_project ->
//	install_deps -> install_agent_runtime -> write_config ->
//	start_agent_server -> resolve_url
//
// Every step emits a pipeline_progress event through the Event Bus before
// and after it runs (install_deps announces itself with an install_progress
// event instead, and emits pipeline_progress when it finishes), and appends a StepRecord (with a bounded tail of
// captured command output) to the run's step history regardless of
// outcome, so a failed install is diagnosable from GET /run/{id} without
// re-running the pipeline.
package pipeline
