// Command etalearn is the service entrypoint: serve, config show, and
// importschedule.
package main

import "github.com/citytransit/etalearn/internal/cli"

func main() {
	cli.Execute()
}
