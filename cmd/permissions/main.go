// Command permissions inspects the permission coordinator configuration and
// drives simulated permission requests against an in-process native bridge.
package main

import (
	"os"

	"github.com/go-drift/permissions/cmd/permissions/cmd"
)

func main() {
	if err := cmd.Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
