// Command ledgerctl runs operator tasks against the ledger store: schema
// migration, wallet replay, conversion recovery and reports.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
