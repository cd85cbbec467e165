package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Command line client for the taskcrew server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("TASKCREW_SERVER", "http://localhost:8080"), "taskcrew server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 65*time.Second, "request timeout")
	root.SetOut(out)

	c := func() *client { return newClient(server, timeout) }
	root.AddCommand(
		newTasksCommand(c),
		newExecuteCommand(c),
		newCancelCommand(c),
		newRetryCommand(c),
		newReportCommand(c),
		newSummaryCommand(c),
		newAnalyzeCommand(c),
		newModelsCommand(c),
	)
	return root
}

func newTasksCommand(c func() *client) *cobra.Command {
	cmd := &cobra.Command{Use: "tasks", Short: "Manage tasks"}

	create := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetString("priority")
			expected, _ := cmd.Flags().GetString("expected")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			template, _ := cmd.Flags().GetString("template")
			body := map[string]any{
				"description":    args[0],
				"priority":       priority,
				"expectedOutput": expected,
				"tags":           tags,
				"templateId":     template,
			}
			var t map[string]any
			if err := c().do(http.MethodPost, "/tasks", body, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %v\n", t["id"])
			return nil
		},
	}
	create.Flags().String("priority", "medium", "low, medium, high or critical")
	create.Flags().String("expected", "", "expected output")
	create.Flags().StringSlice("tag", nil, "tag, repeatable")
	create.Flags().String("template", "", "prompt template id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, name := range []string{"priority", "tag", "search"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					q.Set(name, v)
				}
			}
			path := "/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var tasks []struct {
				ID          string   `json:"id"`
				Description string   `json:"description"`
				Priority    string   `json:"priority"`
				Tags        []string `json:"tags"`
			}
			if err := c().do(http.MethodGet, path, nil, &tasks); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tTAGS\tDESCRIPTION")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Priority, strings.Join(t.Tags, ","), truncate(t.Description, 60))
			}
			return tw.Flush()
		},
	}
	list.Flags().String("priority", "", "filter by priority")
	list.Flags().String("tag", "", "filter by tag")
	list.Flags().String("search", "", "search in descriptions")

	get := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodGet, "/tasks/"+args[0], nil)
		},
	}

	del := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c().do(http.MethodDelete, "/tasks/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	executions := &cobra.Command{
		Use:   "executions <task-id>",
		Short: "List the executions of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodGet, "/tasks/"+args[0]+"/executions", nil)
		},
	}

	cmd.AddCommand(create, list, get, del, executions)
	return cmd
}

func newExecuteCommand(c func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <task-id>",
		Short: "Execute a task and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			for _, name := range []string{"agent", "crew", "model", "session"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					body[executeField[name]] = v
				}
			}
			if cmd.Flags().Changed("temperature") {
				t, _ := cmd.Flags().GetFloat64("temperature")
				body["temperature"] = t
			}
			if raw, _ := cmd.Flags().GetString("input"); raw != "" {
				var input map[string]any
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return fmt.Errorf("--input must be a JSON object: %w", err)
				}
				body["input"] = input
			}

			var res struct {
				ExecutionID   string `json:"executionId"`
				Output        string `json:"output"`
				ExecutionTime int64  `json:"executionTime"`
			}
			if err := c().do(http.MethodPost, "/tasks/"+args[0]+"/execute", body, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\033[36m[%s]\033[0m %dms\n", res.ExecutionID, res.ExecutionTime)
			fmt.Fprintln(out, res.Output)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "agent id")
	cmd.Flags().String("crew", "", "crew id")
	cmd.Flags().String("model", "", "model name")
	cmd.Flags().String("session", "", "session id")
	cmd.Flags().Float64("temperature", 0, "sampling temperature between 0 and 2")
	cmd.Flags().String("input", "", "input variables as a JSON object")
	return cmd
}

var executeField = map[string]string{
	"agent":   "agentId",
	"crew":    "crewId",
	"model":   "modelName",
	"session": "sessionId",
}

func newCancelCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a pending or running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c().do(http.MethodPost, "/executions/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newRetryCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <execution-id>",
		Short: "Retry a failed or cancelled execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				ExecutionID string `json:"executionId"`
				Attempts    int    `json:"attempts"`
			}
			if err := c().do(http.MethodPost, "/executions/"+args[0]+"/retry", nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s (attempt %d)\n", res.ExecutionID, res.Attempts)
			return nil
		},
	}
}

func newReportCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "report <execution-id>",
		Short: "Show the report of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodGet, "/executions/"+args[0]+"/report", nil)
		},
	}
}

func newSummaryCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <task-id>",
		Short: "Summarize the executions of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodGet, "/tasks/"+args[0]+"/summary", nil)
		},
	}
}

func newAnalyzeCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <description>",
		Short: "Analyze a task description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodPost, "/tasks/analyze", map[string]any{"description": args[0]})
		},
	}
}

func newModelsCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, c(), http.MethodGet, "/models", nil)
		},
	}
}

// show prints the JSON answer of a request, indented.
func show(cmd *cobra.Command, c *client, method, path string, body any) error {
	var v any
	if err := c.do(method, path, body, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
