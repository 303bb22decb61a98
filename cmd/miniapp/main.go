// Command miniapp runs the embedded mini-app: it performs the identity
// handshake with its host window and serves the posts UI API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
