// Package cli implements the gpuctl command-line interface.
//
// # Command Structure
//
//	gpuctl terminal <deployment>   - Interactive shell on a deployment
//	gpuctl monitor <deployment>    - Live telemetry dashboard
//	gpuctl init                    - Create .gpuctl.yaml config
//	gpuctl config set <key> <val>  - Change one config value in place
//	gpuctl version                 - Print version information
//
// The root command loads config once (flag, project file, global file, then
// environment overrides) in PersistentPreRunE. Subcommands that talk to a
// deployment build a session.Manager through newApp, which carries the
// config, the logger and the optional Prometheus registry.
//
// # Flag Handling
//
// Global flags (--config, --verbose, --no-color, --metrics-addr) are defined
// on the root command and available to all subcommands.
package cli
