package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"goalforge/pkg/goalforge"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		scenarioPath string
		runID        string
		generations  int
		workers      int
		threshold    float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a scenario, admitting exception goals as they appear",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scenarioPath == "" {
				return errors.New("run requires --scenario")
			}
			cfg := *c.cfg
			if cmd.Flags().Changed("threshold") {
				cfg.Enhancer.Threshold = threshold
			}
			return c.withClient(func(client *goalforge.Client) error {
				summary, err := client.Run(cmd.Context(), goalforge.RunRequest{
					RunID:        runID,
					ScenarioPath: scenarioPath,
					Config:       &cfg,
					Generations:  generations,
					Workers:      workers,
				})
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(summary)
				}
				fmt.Fprintf(c.out, "run_id=%s resumed=%t generations=%d covered=%d current=%d handled=%d\n",
					summary.RunID, summary.Resumed, summary.Generations,
					len(summary.Covered), len(summary.Current), len(summary.Handled))
				for _, d := range summary.Diagnostics {
					if d.Admitted != "" {
						fmt.Fprintf(c.out, "gen=%d admitted=%s pruned=%s\n", d.Generation, d.Admitted, strings.Join(d.Pruned, ","))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario YAML file")
	cmd.Flags().StringVar(&runID, "run-id", "", "resume this run instead of starting a new one")
	cmd.Flags().IntVar(&generations, "gens", 0, "generations (overrides config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "fitness workers (overrides config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "admission probability threshold (overrides config)")
	return cmd
}

func (c *cli) fitnessCmd() *cobra.Command {
	var req goalforge.FitnessRequest
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Score one recorded candidate against one branch objective",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.ScenarioPath == "" || req.CandidateID == "" {
				return errors.New("fitness requires --scenario and --candidate")
			}
			if !cmd.Flags().Changed("max-depth") {
				req.MaxDepth = c.cfg.Enhancer.MaxClimbDepth
			}
			req.Criterion = c.cfg.Criterion
			return c.withClient(func(client *goalforge.Client) error {
				fitness, err := client.Fitness(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(map[string]any{
						"candidate": req.CandidateID,
						"branch":    req.Branch,
						"value":     req.Value,
						"fitness":   fitness,
					})
				}
				fmt.Fprintf(c.out, "candidate=%s goal=B%d:%t fitness=%.6f\n", req.CandidateID, req.Branch, req.Value, fitness)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.ScenarioPath, "scenario", "", "scenario YAML file")
	cmd.Flags().IntVar(&req.Generation, "gen", 0, "generation holding the candidate")
	cmd.Flags().StringVar(&req.CandidateID, "candidate", "", "candidate id")
	cmd.Flags().IntVar(&req.Branch, "branch", 0, "branch id")
	cmd.Flags().BoolVar(&req.Value, "value", true, "required branch outcome")
	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", 0, "control dependency climb limit (overrides config)")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the summary of a persisted run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return errors.New("show requires --run-id")
			}
			return c.withClient(func(client *goalforge.Client) error {
				record, err := client.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(record)
				}
				fmt.Fprintf(c.out, "run_id=%s target=%s.%s criterion=%s generations=%d covered=%d current=%d admitted=%d\n",
					record.ID, record.TargetClass, record.TargetMethod, record.Criterion,
					record.Generations, record.CoveredGoals, record.CurrentGoals, record.Admitted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	return cmd
}

func (c *cli) tablesCmd() *cobra.Command {
	var req goalforge.TablesRequest
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Print the per-run call and exception-trigger tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(func(client *goalforge.Client) error {
				tables, err := client.CallTables(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(tables)
				}
				signatures := make([]string, 0, len(tables.Calls))
				for sig := range tables.Calls {
					signatures = append(signatures, sig)
				}
				sort.Strings(signatures)
				for _, sig := range signatures {
					fmt.Fprintf(c.out, "%s calls=%d triggers=%d\n", sig, tables.Calls[sig], tables.Triggers[sig])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent indexed run")
	return cmd
}

func (c *cli) handledCmd() *cobra.Command {
	var req goalforge.HandledRequest
	cmd := &cobra.Command{
		Use:   "handled",
		Short: "List the exception goals admitted during a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(func(client *goalforge.Client) error {
				records, err := client.HandledGoals(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(records)
				}
				if len(records) == 0 {
					fmt.Fprintln(c.out, "no handled goals")
					return nil
				}
				for _, record := range records {
					parent := record.Parent
					if parent == "" {
						parent = "<root>"
					}
					fmt.Fprintf(c.out, "gen=%d goal=%s parent=%s objective=%s\n", record.Generation, record.Key, parent, record.Objective)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent indexed run")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "max records to print (0 for all)")
	return cmd
}

func (c *cli) diagnosticsCmd() *cobra.Command {
	var req goalforge.DiagnosticsRequest
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print per-generation diagnostics of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(func(client *goalforge.Client) error {
				diagnostics, err := client.Diagnostics(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(diagnostics)
				}
				if len(diagnostics) == 0 {
					fmt.Fprintln(c.out, "no diagnostics")
					return nil
				}
				for _, d := range diagnostics {
					fmt.Fprintf(c.out, "gen=%d candidates=%d current=%d covered=%d new=%d best=%.6f mean=%.6f hits=%d outsiders=%d synthesized=%d admitted=%s\n",
						d.Generation, d.Candidates, d.CurrentGoals, d.CoveredGoals, d.NewlyCovered,
						d.BestFitness, d.MeanFitness, d.TargetHits, d.Outsiders, d.Synthesized, d.Admitted)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent indexed run")
	cmd.Flags().IntVar(&req.Limit, "limit", 50, "max generations to print (0 for all)")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	var req goalforge.RunsRequest
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(func(client *goalforge.Client) error {
				runs, err := client.Runs(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.writeJSON(runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(c.out, "no runs")
					return nil
				}
				for _, r := range runs {
					fmt.Fprintf(c.out, "%s created=%s scenario=%s target=%s.%s generations=%d covered=%d admitted=%d\n",
						r.RunID, r.CreatedAtUTC, r.Scenario, r.TargetClass, r.TargetMethod, r.Generations, r.CoveredGoals, r.Admitted)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 20, "max runs to list (0 for all)")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var req goalforge.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run to another directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(func(client *goalforge.Client) error {
				summary, err := client.Export(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "export the most recent indexed run")
	cmd.Flags().StringVar(&req.OutDir, "out", "", "destination directory (defaults to --exports-dir)")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration to a file",
		RunE: func(*cobra.Command, []string) error {
			if out == "" {
				return errors.New("config requires --out")
			}
			if err := c.cfg.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination file")
	return cmd
}
