package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/chazu/vcall/dispatch"
)

const inspectorHelp = `Commands:
  stats               cache counters
  cells               every call site and where it jumps
  classify <addr>     stub kind and entry point at an address
  describe <addr>     decoded stub fields
  chain <bucket>      resolve cache entries of one bucket
  stubs [kind]        list stubs, optionally of one kind
  quit
`

// runInspector reads commands until EOF or quit.
func runInspector(cache *dispatch.DispatchCache, w *workload) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "vcall> ",
		HistoryFile:       ".vcallsim-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := inspect(os.Stdout, cache, w, fields); err != nil {
			fmt.Fprintf(os.Stdout, "error: %v\n", err)
		}
	}
}

func inspect(out io.Writer, cache *dispatch.DispatchCache, w *workload, fields []string) error {
	switch fields[0] {
	case "help", "?":
		fmt.Fprint(out, inspectorHelp)

	case "stats":
		printReport(out, cache, w, w.classes)

	case "cells":
		for _, s := range w.sites {
			fmt.Fprintf(out, "%-8s #%-10s %-8s %#x\n", s.name, w.classes.Selectors.Name(s.cell.Token()), cache.CellState(s.cell), s.cell.Load())
		}

	case "classify":
		addr, err := argAddr(fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (entry: %s)\n", cache.Classify(addr), cache.EntryPointAt(addr))

	case "describe":
		addr, err := argAddr(fields)
		if err != nil {
			return err
		}
		info, err := cache.Describe(addr)
		if err != nil {
			return err
		}
		printStub(out, w, info)

	case "chain":
		if len(fields) < 2 {
			return errors.New("usage: chain <bucket>")
		}
		b, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		for i, e := range cache.Chain(b, 64) {
			m := w.classes.MethodAt(e.Target)
			fmt.Fprintf(out, "%3d type=%#x token=%d -> %#x %v\n", i, uintptr(e.Type), e.Token, uintptr(e.Target), m)
		}

	case "stubs":
		for _, info := range cache.Stubs() {
			if len(fields) > 1 && info.Kind.String() != fields[1] {
				continue
			}
			printStub(out, w, info)
		}

	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return nil
}

func argAddr(fields []string) (uintptr, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("usage: %s <addr>", fields[0])
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}

func printStub(out io.Writer, w *workload, info dispatch.StubInfo) {
	fmt.Fprintf(out, "%-8s base=%#x size=%d", info.Kind, info.Base, info.Size)
	switch info.Kind {
	case dispatch.StubLookup:
		fmt.Fprintf(out, " token=#%s", w.classes.Selectors.Name(info.Token))
	case dispatch.StubDispatch:
		cls := w.classes.ClassOf(info.ExpectedType)
		name := "?"
		if cls != nil {
			name = cls.Name
		}
		fmt.Fprintf(out, " expected=%s impl=%v fail=%#x", name, w.classes.MethodAt(info.Impl), info.FailTarget)
	case dispatch.StubResolve:
		fmt.Fprintf(out, " token=#%s counter=%d", w.classes.Selectors.Name(info.Token), info.Counter)
	}
	fmt.Fprintln(out)
}
