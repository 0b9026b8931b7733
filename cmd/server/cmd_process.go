package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
)

var processEmit bool

var processCmd = &cobra.Command{
	Use:   "process <events.jsonl>",
	Short: "Replay a JSONL file of events through the pipeline",
	Long: `Reads one JSON event per line ("-" for stdin) and runs each through the
pipeline against the configured store. Events of one user are applied in file
order; different users run concurrently up to engine.workers. Events already
applied are reported as replayed; a replayed event whose audit record is
missing has it rebuilt and is also counted as reconciled.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processEmit, "emit", false, "Write one JSON result per event to stdout")
}

type replaySummary struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Replayed   int `json:"replayed"`
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
	Plans      int `json:"plans_recommended"`
}

type replayLine struct {
	Line   int            `json:"line"`
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	conf, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	in := io.Reader(cmd.InOrStdin())
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	byUser, order, total, err := readEvents(in)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, conf.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	proc, err := engine.New(ctx, conf, st, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		sum     = replaySummary{Total: total}
		results = make([]replayLine, total)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conf.Engine.Workers)
	for _, user := range order {
		evs := byUser[user]
		g.Go(func() error {
			for _, le := range evs {
				res, err := proc.ProcessEvent(gctx, le.ev)
				mu.Lock()
				results[le.idx] = replayLine{Line: le.line, Result: res}
				switch {
				case err != nil:
					sum.Failed++
					results[le.idx].Error = err.Error()
					logger.Warn("event failed", "line", le.line, "event_id", le.ev.ID, "error", err)
				case res.Replayed:
					sum.Replayed++
					if res.Reconciled {
						sum.Reconciled++
					}
				default:
					sum.Processed++
					if res.Plan != nil {
						sum.Plans++
					}
				}
				mu.Unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()
	if err := proc.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Error("saving recommender policy", "error", err)
	}
	if waitErr != nil {
		return waitErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if processEmit {
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	logger.Info("replay finished", "total", sum.Total, "processed", sum.Processed, "replayed", sum.Replayed, "reconciled", sum.Reconciled, "failed", sum.Failed)
	if !processEmit {
		return enc.Encode(sum)
	}
	return nil
}

type lineEvent struct {
	idx  int
	line int
	ev   event.Event
}

// readEvents groups events by user, keeping file order within each user.
// Blank lines are skipped; a malformed line aborts the replay.
func readEvents(r io.Reader) (map[string][]lineEvent, []string, int, error) {
	byUser := map[string][]lineEvent{}
	var order []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	n, idx := 0, 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, nil, 0, fmt.Errorf("line %d: %w", n, err)
		}
		if _, ok := byUser[ev.UserID]; !ok {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], lineEvent{idx: idx, line: n, ev: ev})
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("read events: %w", err)
	}
	return byUser, order, idx, nil
}
