package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	logrusr "github.com/bombsimon/logrusr/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/client"
	"github.com/amrandil/docstream/frame"
	"github.com/amrandil/docstream/stream"
	"github.com/amrandil/docstream/transcript"
)

// Demo program that runs a full analysis session through an in-memory
// pipe: the producer streams frames exactly as the HTTP server would,
// and the consumer reconstructs the transcript from the raw bytes.
func main() {
	fmt.Println("=== Streaming Analysis Demo ===")

	logrusLog := logrus.New()
	logrusLog.SetOutput(os.Stderr)
	log := logrusr.New(logrusLog)

	docs := []analysis.Document{
		{Filename: "commercial_invoice.txt", Data: []byte("Invoice INV-2024-1187\nTotal value: 12,000 USD\n500 units widgets")},
		{Filename: "packing_list.txt", Data: []byte("Packing list\n40 cartons, 500 units\nGross weight 940 kg")},
		{Filename: "bill_of_lading.txt", Data: []byte("Bill of Lading\nShipper: Acme Exports\nGross weight 940 kg")},
	}

	engine := &analysis.ScriptedEngine{
		Phases:    analysis.DefaultScript(nil),
		Verdict:   analysis.Result{Confidence: 0.35},
		StepDelay: 400 * time.Millisecond,
	}

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(context.Background())

	// Producer: the session writes frames into the pipe.
	g.Go(func() error {
		defer pw.Close()
		mux := stream.NewMux(pw, stream.WithLogger(log))
		defer mux.Close()
		runner := analysis.NewRunner(
			analysis.WithLogger(log),
			analysis.WithEngine(engine),
		)
		return runner.Run(ctx, mux, docs, analysis.Options{})
	})

	// Consumer: decode frames, route payloads, fold into a transcript.
	g.Go(func() error {
		dec := frame.NewDecoder(frame.WithLogger(log))
		router := transcript.NewRouter(log)
		viewer := client.NewViewer()

		printed := 0
		buf := make([]byte, 1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				for _, payload := range dec.Feed(buf[:n]) {
					e, ok := router.Route(payload)
					if !ok {
						continue
					}
					viewer.Apply(e)
				}
				for lines := viewer.Lines(); printed < len(lines); printed++ {
					printLine(lines[printed])
				}
			}
			if err == io.EOF {
				printSummary(viewer.State())
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error(err, "demo session failed")
		os.Exit(1)
	}
	fmt.Println("\n=== Demo Complete ===")
}

func printLine(line transcript.Line) {
	marker := " "
	switch {
	case line.Err:
		marker = "!"
	case line.Active:
		marker = "*"
	}
	fmt.Printf("%s %s\n", marker, line.Text)
}

func printSummary(state transcript.State) {
	summary := map[string]interface{}{
		"files":          state.TotalFiles,
		"phases":         state.CurrentPhase,
		"steps":          state.StepCount,
		"tools":          state.Tools,
		"fraud_detected": state.FraudDetected,
		"risk_level":     state.RiskLevel,
		"execution_id":   state.ExecutionID,
		"bundle_id":      state.BundleID,
	}
	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Printf("\nSession summary:\n%s\n", b)
}
