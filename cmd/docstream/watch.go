package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/client"
	"github.com/amrandil/docstream/event"
)

var (
	serverURL           string
	confidenceThreshold float64
	detailedAnalysis    bool
	maxPhases           int
)

func WatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch <file>...",
		Short: "Upload a document bundle and follow the analysis live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			log := newLogger()

			docs := make([]analysis.Document, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					log.Error(err, "unable to read document", "path", path)
					return err
				}
				docs = append(docs, analysis.Document{
					Filename: filepath.Base(path),
					Data:     data,
				})
			}

			opts := analysis.Options{
				ConfidenceThreshold: confidenceThreshold,
				DetailedAnalysis:    detailedAnalysis,
				MaxPhases:           maxPhases,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := client.New(serverURL, client.WithLogger(log)).Analyze(ctx, docs, opts)
			if err != nil {
				log.Error(err, "unable to start analysis")
				return err
			}

			viewer := client.NewViewer()
			printed := 0
			for e := range session.Events() {
				viewer.Apply(e)
				lines := viewer.Lines()
				for ; printed < len(lines); printed++ {
					marker := " "
					switch {
					case lines[printed].Err:
						marker = "!"
					case lines[printed].Active:
						marker = "*"
					}
					fmt.Printf("%s %s\n", marker, lines[printed].Text)
				}
			}
			if err := session.Err(); err != nil {
				log.Error(err, "stream ended abnormally")
				return err
			}

			state := viewer.State()
			if state.Err != "" {
				return fmt.Errorf("analysis failed: %s", state.Err)
			}
			fmt.Println()
			fmt.Printf("Files processed:  %d\n", state.TotalFiles)
			fmt.Printf("Phases run:       %d\n", state.CurrentPhase)
			fmt.Printf("Reasoning steps:  %d\n", state.StepCount)
			fmt.Printf("Fraud detected:   %v\n", state.FraudDetected)
			if state.RiskLevel != "" {
				fmt.Printf("Risk level:       %s\n", state.RiskLevel)
			}
			if state.FraudDetected && state.RiskLevel == event.RiskCritical {
				os.Exit(2)
			}
			return nil
		},
	}

	watchCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the analysis server")
	watchCmd.Flags().Float64Var(&confidenceThreshold, "confidence-threshold", 0, "minimum confidence to report fraud, 0 uses the server default")
	watchCmd.Flags().BoolVar(&detailedAnalysis, "detailed", false, "request a detailed analysis")
	watchCmd.Flags().IntVar(&maxPhases, "max-phases", 0, "cap the number of reasoning phases, 0 means no cap")
	return watchCmd
}
