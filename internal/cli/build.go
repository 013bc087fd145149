package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/config"
	"github.com/roach88/anvil/internal/fsio"
	"github.com/roach88/anvil/internal/journal"
	"github.com/roach88/anvil/internal/sched"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	ConfigPath string
	Compiler   string
	Pipeline   bool
	NoJournal  bool
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <workspace>",
		Short: "Schedule a build of the workspace's project graph",
		Long: `Load the workspace's project manifests, assemble the dependency graph,
and schedule every project through the compilation scheduler.

Example:
  anvil build ./workspace
  anvil build ./workspace --pipeline --compiler scalac`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "anvil.yaml", "path to server configuration")
	cmd.Flags().StringVar(&opts.Compiler, "compiler", "scalac", "compiler executable")
	cmd.Flags().BoolVar(&opts.Pipeline, "pipeline", false, "start dependents as soon as upstream signatures are ready")
	cmd.Flags().BoolVar(&opts.NoJournal, "no-journal", false, "skip recording this run to the build journal")

	return cmd
}

// buildOutcome is the per-project summary rendered after a build.
type buildOutcome struct {
	Project   string   `yaml:"project"`
	Outcome   string   `yaml:"outcome"`
	BlockedOn []string `yaml:"blocked_on,omitempty"`
}

func runBuild(ctx context.Context, opts *BuildOptions, workspace string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServer(opts.ConfigPath)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("pipeline") && cfg.Pipeline {
		opts.Pipeline = true
	}

	defs, err := config.LoadWorkspace(workspace)
	if err != nil {
		return err
	}
	dag, err := config.AssembleGraph(defs)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if !opts.NoJournal {
		if dir := filepath.Dir(cfg.JournalPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create journal directory: %w", err)
			}
		}
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
	}

	client := newLocalClient(cfg.ClientsDir)
	runToken := sched.UUIDv7Generator{}.Generate()

	scheduler := sched.New(
		sched.NewState(),
		newCommandCompiler(opts.Compiler),
		fsio.New(),
		sched.WithPools(sched.NewPools(cfg.ComputePoolSize)),
		sched.WithLogger(slog.Default()),
	)

	byName := make(map[string]config.ProjectDef, len(defs))
	for _, def := range defs {
		byName[def.Project().ID()] = def
	}

	inputs := func(p compile.Project) compile.BundleInputs {
		def := byName[p.ID()]
		outputDir := def.OutputDir
		if outputDir == "" {
			outputDir = client.UniqueClassesDirFor(p)
		}

		classpath := append([]string{}, def.Classpath...)
		for _, dep := range def.DependsOn {
			depDef := byName[dep]
			depOut := depDef.OutputDir
			if depOut == "" {
				depOut = client.UniqueClassesDirFor(depDef.Project())
			}
			classpath = append(classpath, depOut)
		}

		return compile.BundleInputs{
			Project:              p,
			Sources:              def.Sources,
			Classpath:            classpath,
			Options:              def.Options,
			OutputDir:            outputDir,
			SeparateJavaAndScala: def.Java,
			Logger:               compile.SlogLogger{L: slog.Default().With("project", p.ID())},
		}
	}

	setup := sched.DefaultSetup
	if j != nil {
		if err := j.StartRun(ctx, runToken, client.ID(), opts.Pipeline, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		setup = func(ctx context.Context, in compile.BundleInputs) (*compile.Bundle, error) {
			b := compile.NewBundle(in)
			sub := b.Mirror.Subscribe()
			go func() {
				if err := j.Record(context.Background(), runToken, b.Project, sub); err != nil {
					slog.Debug("journal recording stopped", "project", b.Project.ID(), "error", err)
				}
			}()
			return b, nil
		}
	}

	slog.Info("building workspace",
		"workspace", workspace,
		"projects", len(defs),
		"pipeline", opts.Pipeline,
		"run_token", runToken,
	)

	node, err := scheduler.Compile(ctx, client, dag, inputs, setup, opts.Pipeline)
	if err != nil {
		if j != nil {
			_ = j.FinishRun(context.Background(), runToken, "error", time.Now().UTC().Format(time.RFC3339))
		}
		return err
	}

	outcomes := summarizeResult(ctx, node)
	outcome := "ok"
	if p := sched.BlockedBy(node); p != nil {
		outcome = "failed"
	}
	if j != nil {
		if err := j.FinishRun(ctx, runToken, outcome, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}

	rendered, err := yaml.Marshal(outcomes)
	if err != nil {
		return err
	}
	cmd.Print(string(rendered))

	if outcome != "ok" {
		return fmt.Errorf("build failed")
	}
	return nil
}

// summarizeResult flattens the result DAG into per-project outcomes.
func summarizeResult(ctx context.Context, node *sched.ResultNode) []buildOutcome {
	seen := make(map[*sched.ResultNode]bool)
	var out []buildOutcome

	var walk func(n *sched.ResultNode)
	walk = func(n *sched.ResultNode) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children {
			walk(c)
		}

		switch r := n.Result.(type) {
		case *sched.PartialSuccess:
			kind := "ok"
			if rb, err := r.Result.Await(ctx); err == nil && rb != nil {
				kind = rb.Result.Kind.String()
			}
			out = append(out, buildOutcome{Project: r.Bundle.Project.ID(), Outcome: kind})
		case *sched.PartialFailure:
			o := buildOutcome{Project: r.Project.ID(), Outcome: "failed"}
			if r.Result.Kind == compile.ResultBlocked {
				o.Outcome = "blocked"
				o.BlockedOn = r.Result.BlockedOn
			}
			out = append(out, o)
		}
	}
	walk(node)
	return out
}
