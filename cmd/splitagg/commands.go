package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arkilian/splitagg/internal/download"
	apperrors "github.com/arkilian/splitagg/internal/errors"
	"github.com/arkilian/splitagg/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run one stored task synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), withMemoryQueue())
		if err != nil {
			return err
		}
		defer a.Close()

		runErr := a.Controller().Run(cmd.Context(), args[0])
		task, err := a.Store().GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := printTask(cmd.OutOrStdout(), task); err != nil {
			return err
		}
		return runErr
	},
}

var processCmd = &cobra.Command{
	Use:   "process <csv>",
	Short: "Submit a CSV file and process it right away",
	Long: `Copies the file into the input directory, creates a task for it and
runs the task in this process. Prints the output path on success.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// The private queue inside Process replaces the configured one
		a, err := openApp(cmd.Context(), withMemoryQueue())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.Process(cmd.Context(), args[0])
		if err != nil {
			if task != nil {
				printTask(cmd.OutOrStdout(), task)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), *task.OutputFilePath)
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <csv>",
	Short: "Submit a CSV file to the configured queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.Submitter(nil).Submit(cmd.Context(), args[0])
		if task != nil {
			if perr := printTask(cmd.OutOrStdout(), task); perr != nil && err == nil {
				err = perr
			}
		}
		return err
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the queue until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RunWorker(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Print a task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), withMemoryQueue())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.Store().GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printTask(cmd.OutOrStdout(), task)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <task-id> <dest>",
	Short: "Copy the result of a completed task",
	Long: `Copies the output of a COMPLETED task to dest and marks the task
DOWNLOADED. A directory dest receives results.csv. A result can be
downloaded once; tasks that are not finished yet are printed with the
command to run next.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), withMemoryQueue())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Downloader().Download(cmd.Context(), args[0], args[1])
		switch {
		case err == nil:
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		case apperrors.IsClassified(err):
			writeJSON(cmd.OutOrStdout(), apperrors.Report(err))
		case errors.Is(err, download.ErrNotReady):
			printTask(cmd.OutOrStdout(), res.Task)
		}
		return err
	},
}

// taskView is a task as printed by the CLI.
type taskView struct {
	*types.Task
	Next string `json:"next,omitempty"`
}

func printTask(w io.Writer, task *types.Task) error {
	return writeJSON(w, taskView{Task: task, Next: download.Next(task)})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
