package main

import (
	"fmt"
	"os"

	"github.com/crateio/carrier/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "bulk":
		cmdBulk(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "creds":
		cmdCreds(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: carrier <command> [options]

Commands:
  start        Start the synchronization daemon
  stop         Stop the running daemon
  status       Show daemon status
  bulk         Run the initial bulk import and set the cursor baseline
  init-config  Generate default config file
  creds        Manage warehouse credentials (list|set|delete <account>)
  version      Print version information
  help         Show this help message

Options:
  --config <path>  Use an explicit config file (with 'start' and 'bulk')
  --foreground     Run in foreground (with 'start')`)
}
