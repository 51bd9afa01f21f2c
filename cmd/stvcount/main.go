// Command stvcount runs a Section 273 Senate STV count over an
// election specification file and writes the resulting transcript and
// summary to an output directory (spec.md §6).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/opencount/senate-stv/count"
	"github.com/opencount/senate-stv/ingest"
	"github.com/opencount/senate-stv/internal/log"
	"github.com/opencount/senate-stv/live"
	"github.com/opencount/senate-stv/tiebreak"
	"github.com/opencount/senate-stv/transcript"
)

// CLI is the top-level kong command tree. stvcount has exactly one
// subcommand at present; the wrapping struct leaves room to add
// `verify` or `replay` subcommands without breaking the invocation
// named in spec.md §6.
type CLI struct {
	Count CountCmd `cmd:"" default:"withargs" help:"Run an STV count over an election specification file."`
}

// CountCmd is the `stvcount count` subcommand (also the default).
type CountCmd struct {
	ElectionFile string `arg:"" type:"existingfile" help:"Path to the election specification JSON file."`
	OutDir       string `help:"Directory to write the transcript and summary into." default:"." type:"path"`
	Incremental  bool   `help:"Write the transcript as NDJSON incrementally instead of one JSON array at completion."`
	RedisAddr    string `help:"Redis address to publish live round updates to (optional)."`
	RedisChannel string `help:"Redis channel to publish to." default:"senate-stv:rounds"`
	Debug        bool   `help:"Enable debug logging."`
}

// Run executes the count. Its error return becomes stvcount's exit
// code via kong.FatalIfErrorf: any of InvariantViolation,
// TieUnresolved, InputRejected or DegenerateCount from count.Engine
// propagates here wrapped with %w (so errors.Is still matches the
// count sentinels), along with I/O errors from ingestion or output.
func (c *CountCmd) Run() error {
	if c.Debug {
		log.SetLevel(zerolog.DebugLevel)
	}

	input, err := ingest.LoadElectionFile(c.ElectionFile)
	if err != nil {
		return fmt.Errorf("loading election file: %w", err)
	}

	oracle := resolveOracle(c.ElectionFile)

	cfg := count.DefaultConfig()
	cfg.Oracle = oracle

	engine, err := count.New(input, cfg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	store, err := transcript.NewJSONStore(filepath.Join(c.OutDir, "transcript.json"), c.Incremental)
	if err != nil {
		return fmt.Errorf("opening transcript store: %w", err)
	}

	var publisher *live.Publisher
	if c.RedisAddr != "" {
		publisher = live.NewPublisher(c.RedisAddr, c.RedisChannel)
		defer publisher.Close()
	}

	log.Info("starting count: %d candidates, %d vacancies", len(input.Candidates), input.Vacancies)

	for {
		rec, err := engine.Step()
		if err != nil {
			if rec != nil {
				appendRound(store, publisher, *rec)
			}
			_ = store.Finalize()
			if countErr, ok := err.(*count.Error); ok {
				return fmt.Errorf("count failed (%s): %w", countErr.Type(), countErr)
			}
			return fmt.Errorf("count failed: %w", err)
		}
		appendRound(store, publisher, *rec)
		log.Info("round %d complete", rec.Number)
		if engine.Phase() == count.Completed {
			break
		}
	}

	if err := store.Finalize(); err != nil {
		return fmt.Errorf("finalizing transcript: %w", err)
	}

	summary := engine.Summary()
	if err := writeSummary(filepath.Join(c.OutDir, "summary.json"), summary); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	log.Info("count complete: %d candidates elected over %d rounds", len(summary.Elected), summary.TotalRounds)
	return nil
}

func appendRound(store *transcript.JSONStore, publisher *live.Publisher, rec count.RoundRecord) {
	if err := store.Append(rec); err != nil {
		log.Error("writing round %d to transcript: %v", rec.Number, err)
	}
	if publisher != nil {
		if err := publisher.Publish(rec); err != nil {
			log.Error("publishing round %d: %v", rec.Number, err)
		}
	}
}

func writeSummary(path string, summary count.Summary) error {
	bs, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return os.WriteFile(path, bs, 0o644)
}

// resolveOracle builds the tie-break oracle: entries from the election
// file's automation table are replayed exactly (spec.md §6), and any
// tie the table doesn't cover falls through to the lowest-candidate-id
// deterministic rule (spec.md §4.5).
func resolveOracle(electionFile string) tiebreak.Oracle {
	table, err := ingest.LoadAutomationTable(electionFile)
	if err != nil {
		log.Error("loading automation table: %v", err)
		return tiebreak.LowestID{}
	}

	lowest := tiebreak.LowestID{}
	return tiebreak.Func(func(round int, ctx tiebreak.Context, candidates []int) (int, error) {
		if chosen, err := table.Resolve(round, ctx, candidates); err == nil {
			return chosen, nil
		}
		return lowest.Resolve(round, ctx, candidates)
	})
}

func main() {
	var cli CLI
	parser := kong.Parse(&cli,
		kong.Name("stvcount"),
		kong.Description("Computes the official result of a Senate election under Section 273 STV rules."),
	)
	err := parser.Run()
	parser.FatalIfErrorf(err)
}
