// Command procgate runs the procgate process-management gateway.
//
// Procgate answers FastCGI requests from a front web server, maps small
// query-language commands (start/stop/restart/list) onto the procmon
// control tool, and relays the tool's output back as the HTTP response.
//
// Install:
//
//	go install github.com/procfoundry/procgate/cmd/procgate@latest
//
// Usage:
//
//	procgate serve --listen 127.0.0.1:9000 --db ./.data/procgate.db
package main
