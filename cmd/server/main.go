// hpn-c-relay exposes an OpenAI-compatible chat completions API backed by
// a pool of claude.ai web sessions.
//
// Usage:
//
//	# Start the relay with config.yaml or environment settings
//	hpn-c-relay serve
//
//	# Start with a custom configuration file
//	hpn-c-relay serve --config /etc/hpn-c-relay/config.yaml
//
//	# Resolve and print the organization of every configured session
//	hpn-c-relay orgs
//
//	# Show version information
//	hpn-c-relay version
package main

func main() {
	Execute()
}
