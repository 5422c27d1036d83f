package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/history"
)

var historyFlags struct {
	db    string
	limit int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past job runs",
	RunE:  showHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyFlags.db, "db", "", "path of the run history database")
	historyCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", 20, "number of runs to show")
}

func showHistory(cmd *cobra.Command, args []string) error {
	dbPath := historyFlags.db
	if dbPath == "" {
		dbPath = defaultHistoryDB()
	}
	if dbPath == "" {
		return fmt.Errorf("no history database configured")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("history database %s does not exist", dbPath)
	}

	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(historyFlags.limit)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Host", "Backend", "Task", "Started", "Duration", "Result")

	for _, rec := range records {
		duration := "-"
		if rec.FinishedAt != nil {
			duration = rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String()
		}

		result := "running"
		switch {
		case rec.Error != "":
			result = "error: " + rec.Error
		case rec.FinishedAt == nil:
		case rec.Success:
			result = "success"
		case rec.BackendError:
			result = "backend error"
		case rec.UserExitCode != nil && *rec.UserExitCode != 0:
			result = fmt.Sprintf("failed (user exit %d)", *rec.UserExitCode)
		default:
			result = "failed"
		}

		table.Append(
			fmt.Sprintf("%d", rec.ID),
			rec.Hostname,
			rec.BackendType,
			rec.Task,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			result,
		)
	}

	table.Render()
	return nil
}
