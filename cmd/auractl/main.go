// Command auractl is a thin CLI that dials the facade's in-process API
// directly (spec.md §0 "a thin CLI that dials the facade's in-process API
// when embedded"): it loads the same plans directory aurad does and issues
// one query or mutation against it, rather than talking to aurad over a
// network, since no RPC surface exists in this execution core (spec.md §1
// "the IDE / GUI ... and REST/WebSocket façade are out of scope").
//
// # Usage
//
//	auractl [-base-dir DIR] <command> [args...]
//
// Commands:
//
//	list-plans
//	list-tasks <plan>
//	list-actions
//	run-ad-hoc <plan> <task>
//	status
//	schedule-status
//
// # Exit codes (spec.md §6)
//
//	0 success
//	1 init failure
//	2 task/plan not found
//	3 user-argument error
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/aura-automation/aura/errcat"
	"github.com/aura-automation/aura/facade"
)

const (
	exitSuccess     = 0
	exitInitFailure = 1
	exitNotFound    = 2
	exitUserArg     = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("auractl", flag.ContinueOnError)
	baseDirF := fs.String("base-dir", envOr("AURA_BASE_DIR", "./plans"), "Plans root directory")
	if err := fs.Parse(args); err != nil {
		return exitUserArg
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: auractl [-base-dir DIR] <command> [args...]")
		return exitUserArg
	}
	cmd, cmdArgs := rest[0], rest[1:]

	f, err := facade.New(*baseDirF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auractl: init failure: %v\n", err)
		return exitInitFailure
	}

	ctx := context.Background()
	out, err := dispatch(ctx, f, cmd, cmdArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auractl: %v\n", err)
		return exitCodeFor(err)
	}
	if out != nil {
		printJSON(out)
	}
	return exitSuccess
}

func dispatch(ctx context.Context, f *facade.Facade, cmd string, args []string) (any, error) {
	switch cmd {
	case "list-plans":
		return f.ListPlans(), nil

	case "list-tasks":
		if len(args) != 1 {
			return nil, &userArgError{"list-tasks requires exactly one argument: <plan>"}
		}
		return f.ListTasks(args[0])

	case "list-actions":
		return f.ListActions(), nil

	case "list-services":
		return f.ListServices(), nil

	case "status":
		return f.Status(), nil

	case "schedule-status":
		return f.GetScheduleStatus(), nil

	case "active-runs":
		return f.GetActiveRuns(), nil

	case "queue-overview":
		return f.GetQueueOverview(), nil

	case "run-ad-hoc":
		if len(args) != 2 {
			return nil, &userArgError{"run-ad-hoc requires exactly two arguments: <plan> <task>"}
		}
		if err := f.Start(ctx); err != nil {
			return nil, err
		}
		defer f.Stop(ctx)
		runID, err := f.RunAdHoc(ctx, args[0], args[1], nil)
		if err != nil {
			return nil, err
		}
		return map[string]string{"run_id": runID}, nil

	case "run-timeline":
		if len(args) != 1 {
			return nil, &userArgError{"run-timeline requires exactly one argument: <run id>"}
		}
		return f.GetRunTimeline(args[0])

	default:
		return nil, &userArgError{fmt.Sprintf("unknown command %q", cmd)}
	}
}

// userArgError marks a spec.md §6 exit-code-3 user-argument mistake,
// distinguished from a facade-reported ConfigError (exit code 2).
type userArgError struct{ msg string }

func (e *userArgError) Error() string { return e.msg }

// exitCodeFor maps a dispatch error to one of spec.md §6's CLI exit codes.
func exitCodeFor(err error) int {
	var uae *userArgError
	if errors.As(err, &uae) {
		return exitUserArg
	}
	var cfgErr *errcat.ConfigError
	if errors.As(err, &cfgErr) {
		return exitNotFound
	}
	return exitInitFailure
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
