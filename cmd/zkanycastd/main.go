// Command zkanycastd is a per-host anycast health controller that
// advertises BGP routes to an ExaBGP-compatible speaker based on
// ZooKeeper-coordinated peer membership.
package main

import (
	"github.com/hightoxicity/zkanycastd/cmd/zkanycastd/commands"
)

func main() {
	commands.Execute()
}
