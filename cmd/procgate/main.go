package main

import (
	"os"

	"github.com/procfoundry/procgate/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
