// Command p2p-chat runs the tracker, channel and peer services of the chat
// network and the proxy in front of them, either one per process or all
// together.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "p2p-chat: %v\n", err)
		os.Exit(1)
	}
}
