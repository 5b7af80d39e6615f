// Command keepalived keeps one registered task running: it restarts the task
// after it dies and after the daemon itself restarts.
package main

import (
	"fmt"
	"os"

	"github.com/HerbHall/keepalive/internal/version"
)

const usage = `usage: keepalived <command> [flags]

commands:
  serve      run the daemon (default)
  register   store the task handle without a running daemon
  clear      remove the stored task handle
  backup     archive the database and config
  restore    restore a backup archive
  version    print version information
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "register":
		runRegister(args)
	case "clear":
		runClear(args)
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "version":
		fmt.Println(version.Info())
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
