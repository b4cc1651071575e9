package main

import (
	"fmt"
	"os"
)

// Exit codes.
const (
	exitOK        = 0
	exitConfig    = 1
	exitDatastore = 2
	exitInternal  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: internal error: %v\n", r)
			code = exitInternal
		}
	}()

	once := false
	for _, arg := range args {
		switch arg {
		case "once":
			once = true
		case "version", "--version":
			printVersion()
			return exitOK
		default:
			fmt.Fprintf(os.Stderr, "usage: gnm-collector [once|version]\n")
			return exitConfig
		}
	}

	return runCollector(once)
}
