package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/trace"
)

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.AddCommand(traceVerifyCmd)
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Event trace operations",
	Long:  "Commands for verifying the hash-chained security event trace.",
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of a trace mirror",
	Long: "Walks the JSONL trace mirror and validates that every record's\n" +
		"prev_hash matches the hash of the previous record and that every\n" +
		"stored hash matches its recomputation. Exits 0 if valid, 1 if tampered.\n\n" +
		"Defaults to the configured mirror path when no path is given.",
	Args: cobra.MaximumNArgs(1),
	RunE: runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.TraceMirrorPath == "" {
			return fmt.Errorf("no trace mirror configured and no path given")
		}
		path = cfg.TraceMirrorPath
	}

	result := trace.VerifyMirror(path)
	if result.Valid {
		fmt.Printf("OK: %d records verified\n", result.Records)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}
