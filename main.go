package main

import (
	"github.com/frahmantamala/subscription-billing/cmd"

	// containerized deploys cap CPU below the node's core count; GOMAXPROCS
	// must follow the quota or the scheduler thrashes
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
