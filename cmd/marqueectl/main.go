// Command marqueectl runs either the display control plane's operator-facing
// server (`serve`) or its independent playlist scheduler (`schedule`), the
// way the teacher ships one `helix` binary with `serve`/`runner` subcommands
// (api/cmd/helix/root.go).
package main

func main() {
	Execute()
}
