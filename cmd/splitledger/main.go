// splitledger serves the shared-expense ledger API and its operator tooling.
package main

import "github.com/mmynk/splitledger/internal/cli"

func main() {
	cli.Execute()
}
