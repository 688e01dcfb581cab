// Licensed under the MIT license which can be found in the LICENSE file.

// Command knxctl searches, describes and writes to KNXnet/IP gateways, including KNX IP
// Secure tunnels and Data Secure group addresses.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
