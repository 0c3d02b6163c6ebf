package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/narrately/api/pkg/renderclient"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		planPath string
		scenes   []string
		plan     renderclient.Plan
		watch    bool
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a render job",
		Long: `Submit a render job from a JSON plan file or from flags.

Scenes given with --scene use the form "DURATION|NARRATION|IMAGE PROMPT";
narration and prompt are optional.`,
		Example: `  renderctl submit --plan plan.json --watch
  renderctl submit --lang hi-IN --scene "2.5|नमस्ते दुनिया।|sunrise" --scene "3"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if planPath != "" {
				loaded, err := loadPlan(planPath, cmd.InOrStdin())
				if err != nil {
					return err
				}
				mergePlanFlags(loaded, &plan)
				plan = *loaded
			}
			for _, raw := range scenes {
				scene, err := parseSceneFlag(raw)
				if err != nil {
					return err
				}
				plan.Scenes = append(plan.Scenes, scene)
			}
			if len(plan.Scenes) == 0 {
				return errors.New("plan has no scenes: pass --plan or --scene")
			}

			jobID, err := ctx.apiClient().Submit(cmd.Context(), plan)
			if err != nil {
				return describeError(err)
			}
			if jsonOut {
				if err := writeJSON(cmd, map[string]string{"job_id": jobID}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", jobID)
			}
			if !watch {
				return nil
			}
			return watchJob(cmd, ctx, jobID)
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Path to a JSON plan (- reads stdin)")
	cmd.Flags().StringArrayVar(&scenes, "scene", nil, "Scene as DURATION|NARRATION|IMAGE PROMPT (repeatable)")
	cmd.Flags().StringVar(&plan.Topic, "topic", "", "Video topic")
	cmd.Flags().StringVar(&plan.Language, "lang", "", "Narration language tag, e.g. hi-IN")
	cmd.Flags().StringVar(&plan.VoiceID, "voice", "", "Voice id")
	cmd.Flags().Float64Var(&plan.Pace, "pace", 0, "Speaking pace multiplier")
	cmd.Flags().BoolVar(&plan.Publish, "publish", false, "Publish the finished video")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the job id as JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current job snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.apiClient().GetStatus(cmd.Context(), args[0])
			if err != nil {
				return describeError(err)
			}
			st.IsStale = renderclient.NewSession(ctx.pollConfig()).IsStale(st)
			if jsonOut {
				return writeJSON(cmd, st)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, statusRows(st), nil))
			if st.IsStale {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: the worker missed its heartbeat; the job may be reclaimed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the snapshot as JSON")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd, ctx, args[0])
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Cancel(cmd.Context(), args[0]); err != nil {
				return describeError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newActivityCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "activity <job-id>",
		Short: "List recent job events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			events, err := ctx.apiClient().Activity(cmd.Context(), args[0], limit)
			if err != nil {
				return describeError(err)
			}
			if jsonOut {
				return writeJSON(cmd, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded")
				return nil
			}
			table := renderTable([]string{"Seq", "Time", "Event", "Message"}, eventRows(events),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of newest events (server default when 0)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print events as JSON")
	return cmd
}

// watchJob follows jobID with the polling contract. A terminal output gets a
// single rewritten line; pipes get one line per change.
func watchJob(cmd *cobra.Command, ctx *commandContext, jobID string) error {
	out := cmd.OutOrStdout()
	live := isTerminal(out)
	var last string

	poller := renderclient.NewPoller(ctx.apiClient(), ctx.pollConfig())
	st, err := poller.Run(cmd.Context(), jobID, func(st *renderclient.Status) error {
		line := statusLine(st, live)
		if live {
			fmt.Fprint(out, ansiClearLine+line)
			return nil
		}
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		return nil
	})
	if live {
		fmt.Fprintln(out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return describeError(err)
	}

	switch st.State {
	case renderclient.StateFailed:
		if st.Error != nil {
			return fmt.Errorf("job %s failed in %s: %s", jobID, st.Error.Phase, st.Error.Message)
		}
		return fmt.Errorf("job %s failed", jobID)
	case renderclient.StateCompleted:
		if st.AudioError != nil {
			fmt.Fprintf(out, "Completed with fallback audio for scenes %v (%s)\n", st.AudioError.Scenes, st.AudioError.Code)
		}
		for _, loc := range st.Artifacts["video"] {
			fmt.Fprintf(out, "Video: %s\n", loc)
		}
	}
	return nil
}

func describeError(err error) error {
	var qe *renderclient.QuotaError
	if errors.As(err, &qe) {
		return fmt.Errorf("rate limited by the server, retry %s", formatRetry(qe.RetryAfter))
	}
	if errors.Is(err, renderclient.ErrNotFound) {
		return errors.New("job not found")
	}
	return err
}

func loadPlan(path string, stdin io.Reader) (*renderclient.Plan, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan renderclient.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &plan, nil
}

// mergePlanFlags lets explicit flags override the plan file.
func mergePlanFlags(dst *renderclient.Plan, flags *renderclient.Plan) {
	if flags.Topic != "" {
		dst.Topic = flags.Topic
	}
	if flags.Language != "" {
		dst.Language = flags.Language
	}
	if flags.VoiceID != "" {
		dst.VoiceID = flags.VoiceID
	}
	if flags.Pace != 0 {
		dst.Pace = flags.Pace
	}
	if flags.Publish {
		dst.Publish = true
	}
}

func parseSceneFlag(raw string) (renderclient.Scene, error) {
	parts := strings.SplitN(raw, "|", 3)
	dur, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || dur <= 0 {
		return renderclient.Scene{}, fmt.Errorf("scene %q: duration must be a positive number of seconds", raw)
	}
	scene := renderclient.Scene{DurationSec: dur}
	if len(parts) > 1 {
		scene.Narration = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		scene.ImagePrompt = strings.TrimSpace(parts[2])
	}
	return scene, nil
}
