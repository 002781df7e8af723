package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"caseweaver/internal/config"
	"caseweaver/internal/llm"
	"caseweaver/internal/logging"
	"caseweaver/internal/mystery"
	"caseweaver/internal/pipeline"
	"caseweaver/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// generate flags
	caseDate   string
	difficulty string
	crimeType  string
	keepDraft  bool

	// resume flags
	resumeFrom string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "caseweaver",
	Short: "caseweaver - daily detective case generator",
	Long: `caseweaver generates playable detective cases: a causal event chain,
a cast with limited knowledge, a spatial world, a fact graph with guaranteed
reachability, and a gated casebook the player investigates.

Generation runs as a staged pipeline with per-stage validation and retry;
interrupted runs can be resumed from their last checkpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := os.Getenv("CASEWEAVER_LOG_LEVEL")
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(logging.Config{Level: level, JSON: true})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new case",
	Long: `Runs the full generation pipeline for one case date. The draft is
checkpointed after every stage; on failure the command prints the draft id
and the stage to resume from.`,
	RunE: runGenerate,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [draft-id]",
	Short: "Resume a failed or interrupted draft",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List saved drafts",
	RunE:  runDrafts,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [case-date or draft-id]",
	Short: "Print a stored case, or a draft's last checkpointed state, as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	generateCmd.Flags().StringVar(&caseDate, "date", time.Now().Format("2006-01-02"), "Case date (YYYY-MM-DD)")
	generateCmd.Flags().StringVar(&difficulty, "difficulty", "", "easy, medium or hard")
	generateCmd.Flags().StringVar(&crimeType, "crime", "", "Crime type hint (random setting when empty)")
	generateCmd.Flags().BoolVar(&keepDraft, "keep-draft", false, "Keep the draft after a successful run")

	resumeCmd.Flags().StringVar(&resumeFrom, "from", "", "Stage to resume from (defaults to the stage after the checkpoint)")

	rootCmd.AddCommand(generateCmd, resumeCmd, draftsCmd, inspectCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildPipeline wires config, store and model router into a pipeline.
func buildPipeline(input mystery.RunInput) (*pipeline.Pipeline, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	// The config file can lower or raise the log level; --verbose wins.
	if !verbose && cfg.Logging.Level != "" {
		if l, err := logging.New(cfg.Logging); err == nil {
			logger = l
		}
	}
	if keepDraft {
		cfg.Generation.KeepDrafts = true
	}
	llmCfg := cfg.LLM
	if len(input.ModelConfig) > 0 {
		if llmCfg.StageModels == nil {
			llmCfg.StageModels = make(map[string]string)
		}
		for stage, alias := range input.ModelConfig {
			llmCfg.StageModels[stage] = alias
		}
	}

	router, err := llm.NewRouter(llmCfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.New(router, st, logger, pipeline.Options{
		RetryBudget:  cfg.Generation.RetryBudget,
		StageTimeout: cfg.Generation.StageTimeout,
		KeepDrafts:   cfg.Generation.KeepDrafts,
	})
	return p, st, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	input := mystery.RunInput{
		CaseDate:   caseDate,
		Difficulty: mystery.Difficulty(difficulty),
		CrimeType:  crimeType,
	}
	p, st, err := buildPipeline(input)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := p.Run(cmd.Context(), input)
	if err != nil {
		return reportFailure(err)
	}
	fmt.Printf("Generated case %q for %s\n", c.Title, c.Date)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	p, st, err := buildPipeline(mystery.RunInput{})
	if err != nil {
		return err
	}
	defer st.Close()

	draftID := args[0]
	from := pipeline.StageName(resumeFrom)
	if resumeFrom == "" {
		meta, err := st.DraftMetaFor(draftID)
		if err != nil {
			return err
		}
		next, ok := pipeline.NextStage(pipeline.StageName(meta.Stage))
		if !ok {
			return fmt.Errorf("draft %s already completed stage %s", draftID, meta.Stage)
		}
		from = next
	}

	c, err := p.Resume(cmd.Context(), draftID, from)
	if err != nil {
		return reportFailure(err)
	}
	fmt.Printf("Generated case %q for %s\n", c.Title, c.Date)
	return nil
}

func runDrafts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	drafts, err := st.ListDrafts()
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		fmt.Println("No drafts.")
		return nil
	}
	for _, d := range drafts {
		fmt.Printf("%-10s %s  last stage %-22s %s\n",
			d.DraftID, d.CaseDate, d.Stage, d.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.LoadCase(args[0])
	if err == nil {
		return printJSON(c)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Not a stored case: fall back to a draft id, surfacing the accumulator
	// at its last checkpoint (including any validation errors).
	var state pipeline.State
	meta, draftErr := st.LoadDraft(args[0], &state)
	if draftErr != nil {
		return fmt.Errorf("no case or draft %q: %w", args[0], draftErr)
	}
	fmt.Printf("Draft %s (case date %s), last completed stage %s:\n", meta.DraftID, meta.CaseDate, meta.Stage)
	return printJSON(state)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// reportFailure surfaces the resume hint on pipeline failures.
func reportFailure(err error) error {
	if pf, ok := err.(*pipeline.PipelineFailure); ok && pf.DraftID != "" {
		return fmt.Errorf("%w\nresume with: caseweaver resume %s --from %s", err, pf.DraftID, pf.Stage)
	}
	return err
}
