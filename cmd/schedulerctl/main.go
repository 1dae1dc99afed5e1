// Command schedulerctl is an operator debug CLI for inspecting and
// repairing scheduler state directly in Redis: list a node's presence
// and snapshot, print a job's current FSM state, or force-release a
// stuck reservation.
//
// Grounded on cmd/debug_db/main.go's connect-then-act shape (load
// config, connect, print diagnostics with fmt.Println/log.Fatalf), here
// talking to Redis instead of Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/noderegistry"
	"lingua-scheduler/internal/redisstate"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	redis := redisstate.New(cfg.Redis)
	ctx := context.Background()
	if err := redis.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "redis ping failed: %v\n", err)
		os.Exit(1)
	}
	defer redis.Close()

	var err error
	switch args[0] {
	case "node-status":
		err = nodeStatus(ctx, redis, cfg, args[1:])
	case "job-status":
		err = jobStatus(ctx, redis, args[1:])
	case "release":
		err = forceRelease(ctx, redis, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `schedulerctl <command> [args]

Commands:
  node-status <node-id>                 print a node's presence and snapshot
  job-status <job-id>                   print a job's current FSM state
  release <job-id> <attempt> <node-id>  force-release a stuck reservation`)
}

func nodeStatus(ctx context.Context, redis *redisstate.Client, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: node-status <node-id>")
	}
	nodeID := args[0]

	nodes := noderegistry.New(redis, cfg.Scheduler, nil)
	present, err := nodes.IsPresent(ctx, nodeID)
	if err != nil {
		return err
	}
	fmt.Printf("node %s present: %v\n", nodeID, present)

	snap, err := nodes.Snapshot(ctx, nodeID)
	if err != nil {
		fmt.Printf("no snapshot: %v\n", err)
		return nil
	}
	fmt.Printf("status=%s capacity=%d running=%d languages=%v last_heartbeat=%s\n",
		snap.Status, snap.Capacity, snap.Running, snap.Languages, snap.LastHeartbeat)
	return nil
}

func jobStatus(ctx context.Context, redis *redisstate.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: job-status <job-id>")
	}
	state, err := redis.GetJobState(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("job %s state=%s\n", args[0], state)
	return nil
}

func forceRelease(ctx context.Context, redis *redisstate.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: release <job-id> <attempt> <node-id>")
	}
	jobID := args[0]
	attempt, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad attempt %q: %w", args[1], err)
	}
	nodeID := args[2]

	state, err := redis.GetJobState(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}
	if state != domain.JobFailed && state != domain.JobFinished {
		return fmt.Errorf("refusing to release job in state %s (expected failed or finished)", state)
	}
	if err := redis.ReleaseReserve(ctx, jobID, attempt, nodeID); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	fmt.Printf("released reservation for job=%s attempt=%d node=%s\n", jobID, attempt, nodeID)
	return nil
}
