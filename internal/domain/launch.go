package domain

import (
	"path/filepath"
	"strings"
)

// BuildArgv turns a record's start descriptor into a concrete command line.
// Interpreter starts resolve script paths against the daemons root; shell
// starts run the literal command through the shell. Extra arguments are
// appended after the descriptor's own.
func BuildArgv(interpreter, daemonsRoot string, rec DaemonRecord, extra []string) []string {
	if len(rec.Start.Args) == 0 {
		return nil
	}
	switch rec.Start.Type {
	case StartShell:
		command := strings.Join(rec.Start.Args, " ")
		if len(extra) > 0 {
			command += " " + strings.Join(extra, " ")
		}
		return []string{"/bin/sh", "-c", command}
	default:
		argv := []string{interpreter}
		for i, arg := range rec.Start.Args {
			if i == 0 {
				argv = append(argv, filepath.Join(daemonsRoot, arg))
				continue
			}
			argv = append(argv, arg)
		}
		return append(argv, extra...)
	}
}
