// ccrelay is a local reverse proxy between AI coding CLIs and their API
// providers.
//
// It terminates requests from the claude and codex CLIs on one local port,
// forwards them to a priority-ordered provider chain per service, and fails
// over transparently when a provider stops answering. Routing is sticky: a
// provider that works keeps receiving traffic until it fails or sits idle
// past the sticky window.
//
// Usage:
//
//	# Start the relay in the foreground
//	ccrelay run
//
//	# Start with a custom configuration file
//	ccrelay run --config /path/to/config.yaml
//
//	# Start without touching the CLIs' own config files
//	ccrelay run --no-agent-config
//
//	# Check the running relay
//	ccrelay status
//
//	# Stop a running relay
//	ccrelay stop
package main

func main() {
	Execute()
}
