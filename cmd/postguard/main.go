// Command postguard is the PostGuard CLI: seal and unseal streams under
// attribute policies, derive keys from a PKG, and run a PKG server.
package main

import (
	"fmt"
	"os"

	"github.com/DorAlter/postguard/cmd/postguard/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
