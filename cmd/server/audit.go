package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"qaboard/internal/ledger"
)

// runAudit recounts votes for the given answers, or every answer when none
// are named, and prints one JSON line per inconsistent answer.
func runAudit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ids := args
	if len(ids) == 0 {
		if ids, err = st.ListAnswerIDs(cmd.Context()); err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
	}

	l := ledger.New(st, nil, ledger.WithLogger(logger))
	enc := json.NewEncoder(cmd.OutOrStdout())
	bad := 0
	for _, id := range ids {
		report, err := l.Audit(cmd.Context(), id)
		if err != nil {
			return err
		}
		if report.Consistent() {
			continue
		}
		bad++
		if err := enc.Encode(report); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "audited %d answers, %d inconsistent\n", len(ids), bad)
	if strict, _ := cmd.Flags().GetBool("strict"); strict && bad > 0 {
		return fmt.Errorf("%d answers have drifted tallies", bad)
	}
	return nil
}
