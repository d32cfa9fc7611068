// Command triestore builds and queries a persisted full-text index
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	switch args[1] {
	case "index":
		return c.indexCmd(args[2:])
	case "search":
		return c.searchCmd(args[2:])
	case "remove":
		return c.removeCmd(args[2:])
	case "stats":
		return c.statsCmd(args[2:])
	case "shell":
		return c.shellCmd(args[2:])
	case "serve":
		return c.serveCmd(args[2:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(stderr, "Run 'triestore help' for usage.")
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: triestore <command> [flags] [args]

Commands:
  index   <key> <text...>   index text under key (-file reads the text from a file)
  search  <query...>        print the keys matching every query word; word* matches a prefix
  remove  <key>             drop key from the index
  stats                     print index and file counters
  shell                     interactive prompt over an open index
  serve                     keep the index open and expose /metrics, /ready and pprof

Common flags:
  -config <path>   YAML configuration file
  -index <path>    index file, overrides index.path
`)
}
