package app

import (
	"fmt"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp()
		return 2
	}

	switch args[1] {
	case "serve":
		return serve(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(os.Stdout, "procgate")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage:")
	fmt.Fprintln(os.Stdout, "  procgate serve [-v] [-l <max POST length>] [--config ./procgate.yaml] [--watch]")
	fmt.Fprintln(os.Stdout, "                 [--listen 127.0.0.1:9000 | --fcgi-socket /run/procgate.sock] [--http 127.0.0.1:8080]")
	fmt.Fprintln(os.Stdout, "                 [--admin 127.0.0.1:9901] [--db ./.data/procgate.db | --postgres-dsn postgres://...]")
	fmt.Fprintln(os.Stdout, "                 [--control-tool /usr/local/bin/procmon] [--pid-file ./procgate.pid] [--log-level info]")
	fmt.Fprintln(os.Stdout, "  procgate version [--long] [--json]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "With no listen flags, serve answers FastCGI requests on stdin (web-server spawn mode).")
}
