package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/orchestrator"
	"github.com/vigilcore/vigil/internal/plan"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <plan.json>",
	Short: "Validate and execute one plan document",
	Long: "Reads a single JSON plan document, validates it against the strict\n" +
		"schema, gates it through the security guardian, and executes it.\n\n" +
		"Exit code 0 on success, 65 on an invalid plan, 77 when blocked by\n" +
		"the current security posture, 1 on execution failure.",
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	p, err := plan.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "REJECTED: %v\n", err)
		os.Exit(65) // EX_DATAERR
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.monitor.Initialize(); err != nil {
		return fmt.Errorf("initialize baseline: %w", err)
	}

	var audit orchestrator.AuditStore
	if rt.cfg.AuditDBPath != "" {
		store, err := orchestrator.OpenSQLiteAuditStore(rt.cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		audit = store
	}

	o, err := orchestrator.New(rt.guardian, receiptExecutor{}, audit)
	if err != nil {
		return err
	}
	defer o.Close()

	result, err := o.Execute(context.Background(), p)
	if err != nil {
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			fmt.Fprintf(os.Stderr, "BLOCKED (%s): %s\n", blocked.Stage, blocked.Reason)
			os.Exit(77) // EX_NOPERM
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// receiptExecutor is the built-in downstream: it acknowledges each step
// without performing domain work. Real deployments supply their own
// orchestrator.Executor.
type receiptExecutor struct{}

func (receiptExecutor) Execute(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error) {
	receipts := make([]map[string]any, len(steps))
	for i, s := range steps {
		receipts[i] = map[string]any{
			"step":   i,
			"domain": s.Domain,
			"method": s.Method,
			"status": "accepted",
		}
	}
	return map[string]any{
		"user_id":      userID,
		"trigger_type": triggerType,
		"steps":        receipts,
	}, nil
}
