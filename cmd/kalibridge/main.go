// Command kalibridge is the framing shell around the bridge's core
// packages (spec §6): it wires a Policy, a framing adapter, and stdio
// together, and otherwise contains no domain logic of its own. Grounded
// in tim-coutinho-agentops/cli's cmd/ao package layout (a root.go
// holding the cobra root command and global flags, one file per
// subcommand, a bare main.go that only calls Execute).
package main

func main() {
	Execute()
}
