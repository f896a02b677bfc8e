package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/logging"
	"github.com/veridexlabs/veridex/internal/model"
)

var checkKind string

// checkCmd runs one verification synchronously and prints the result.
var checkCmd = &cobra.Command{
	Use:   "check [input]",
	Short: "Verify a URL, text or image in one shot",
	Long: `Run the full pipeline on one input and print the verified claims
as JSON. The input is a URL, a text passage, or a path to an image file,
selected by --kind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		return runCheck(cmd.Context(), cfg, args[0])
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkKind, "kind", "text", "input kind: url, text or image")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(ctx context.Context, cfg *config.Config, input string) error {
	kind := model.InputKind(checkKind)
	if !kind.Valid() {
		return fmt.Errorf("unknown input kind %q", checkKind)
	}
	if kind == model.InputImage {
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		input = encodeImage(data)
	}

	logger := logging.New(logLevel())
	defer logging.Sync(logger)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	// Reject out-of-bounds text up front, before a check row exists,
	// matching the HTTP submission path.
	if kind == model.InputText {
		if err := p.ingestor.ValidateLength(input); err != nil {
			return err
		}
	}

	check := &model.Check{
		ID:         uuid.NewString(),
		UserID:     "cli",
		InputKind:  kind,
		Input:      input,
		Status:     model.StatusPending,
		CreditCost: model.CreditCost,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.CreateCheck(ctx, check); err != nil {
		return err
	}

	// Progress to stderr so stdout stays clean JSON.
	events, cancel := p.broadcaster.Subscribe(check.ID)
	defer cancel()
	go func() {
		for ev := range events {
			fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", ev.Percent, ev.Stage)
		}
	}()

	if err := p.orch.Execute(ctx, check.ID); err != nil {
		return err
	}

	result, err := p.store.GetCheck(ctx, check.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func encodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
