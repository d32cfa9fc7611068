package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nainya/triestore/internal/logger"
	"github.com/nainya/triestore/pkg/index"
)

const shellHelp = `Commands:
  index <key> <text...>   index text under key
  search <query...>       keys matching every word; word* matches a prefix
  remove <key>            drop key
  contains <key>          report whether key is indexed
  keys                    list every key
  count                   number of keys
  evict                   drop loaded trie nodes from memory
  stats                   index and file counters
  help                    this text
  exit                    leave the shell
`

func (c *cli) shellCmd(args []string) int {
	var cf common
	fs := c.flags("shell", &cf)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := c.loadConfig(cf)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	ix, err := openIndex(cfg, logger.NewLogger(cfg.Log), nil)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error opening index: %v\n", err)
		return 1
	}
	defer ix.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "triestore> ",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.Index.Path), ".triestore_history"),
		AutoComplete:    shellCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           io.NopCloser(c.stdin),
		Stdout:          c.stdout,
		Stderr:          c.stderr,
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return 0
			}
			continue
		}
		if err != nil {
			return 0
		}
		if quit := execLine(ix, line, c.stdout); quit {
			return 0
		}
	}
}

var shellCompleter = readline.NewPrefixCompleter(
	readline.PcItem("index"),
	readline.PcItem("search"),
	readline.PcItem("remove"),
	readline.PcItem("contains"),
	readline.PcItem("keys"),
	readline.PcItem("count"),
	readline.PcItem("evict"),
	readline.PcItem("stats"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

// execLine runs one shell command and reports whether the shell should exit
func execLine(ix *index.Index[string], line string, w io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprint(w, shellHelp)
	case "index":
		if len(args) < 2 {
			fmt.Fprintln(w, "usage: index <key> <text...>")
			return false
		}
		if err = ix.Index(args[0], strings.Join(args[1:], " ")); err == nil {
			fmt.Fprintln(w, "OK")
		}
	case "search":
		var keys []string
		if keys, err = ix.Search(strings.Join(args, " ")); err == nil {
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
			fmt.Fprintf(w, "(%d results)\n", len(keys))
		}
	case "remove":
		if len(args) != 1 {
			fmt.Fprintln(w, "usage: remove <key>")
			return false
		}
		if err = ix.Remove(args[0]); err == nil {
			fmt.Fprintln(w, "OK")
		}
	case "contains":
		if len(args) != 1 {
			fmt.Fprintln(w, "usage: contains <key>")
			return false
		}
		var ok bool
		if ok, err = ix.Contains(args[0]); err == nil {
			fmt.Fprintln(w, ok)
		}
	case "keys":
		var keys []string
		if keys, err = ix.Keys(); err == nil {
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
		}
	case "count":
		var n int
		if n, err = ix.Count(); err == nil {
			fmt.Fprintln(w, n)
		}
	case "evict":
		if err = ix.Evict(); err == nil {
			fmt.Fprintln(w, "OK")
		}
	case "stats":
		var st index.Stats
		if st, err = ix.Stats(); err == nil {
			printStats(w, st)
		}
	default:
		fmt.Fprintf(w, "unknown command %q, try help\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return false
}
