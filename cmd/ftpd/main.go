// Command ftpd runs the FTP server and manages its accounts.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ftpd:", err)
		os.Exit(1)
	}
}
