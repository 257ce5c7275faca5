// Haytham: Story Interpretation MCP Server
//
// Turns a backlog of natural-language user stories into structured,
// validated interpretation artifacts, pausing on a durable human gate
// whenever a decision needs real intent instead of a heuristic.
//
// Usage:
//
//	haytham serve              # Start MCP server (stdio transport)
//	haytham ingest -f backlog.yaml --roles user,admin
//	haytham run                # Advance until blocked, ready, or done
//	haytham status             # Session overview
//	haytham answer <request-id> AMB-S-001-scope=b ...
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/orchestrator"
	haythamserver "github.com/arslan70/haytham/internal/server"
	"github.com/mark3labs/mcp-go/server"
)

var rootCmd = &cobra.Command{
	Use:   "haytham",
	Short: "Story interpretation engine",
	Long: `Haytham interprets natural-language user stories one at a time:
it parses the narrative, detects and classifies ambiguities, checks
consistency against what the system already does, finds prerequisites,
and either hands the story downstream or suspends on a human decision.
Every workflow transition is committed to a crash-safe snapshot, so an
interrupted session always resumes where it left off.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HAYTHAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(storiesCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(versionCmd())
}

// withSession opens the orchestrator for the configured workspace and
// guarantees the ledger connection is closed after fn returns.
func withSession(fn func(o *orchestrator.Orchestrator) error) error {
	o, err := orchestrator.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer o.Close()
	return fn(o)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.ServeStdio(haythamserver.New())
		},
	}
}

func ingestCmd() *cobra.Command {
	var file, roles string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a YAML backlog of user stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading backlog: %w", err)
			}
			var seed []string
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					seed = append(seed, r)
				}
			}
			return withSession(func(o *orchestrator.Orchestrator) error {
				backlog, err := o.Ingest(data, seed)
				if err != nil {
					return err
				}
				_, total := backlog.Counts()
				fmt.Printf("Ingested %d stories. Run `haytham run` to start.\n", total)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "backlog.yaml", "backlog YAML file")
	cmd.Flags().StringVar(&roles, "roles", "user", "comma-separated known roles")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Advance the workflow until it suspends or finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				stage, err := o.Run()
				if err != nil {
					return err
				}
				st := o.Status()
				fmt.Printf("Stopped at: %s (%d/%d completed)\n", stage, st.StoriesCompleted, st.StoriesTotal)
				switch stage {
				case orchestrator.StageBlocked:
					fmt.Println("Pending decisions — run `haytham pending` to see them.")
				case orchestrator.StageReadyForDownstream:
					fmt.Printf("Story %s is ready — run `haytham ready` to fetch it.\n", st.CurrentStory)
				case orchestrator.StageAllDone:
					fmt.Println("All stories completed.")
				}
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				st := o.Status()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Stage: %s\n", st.Stage)
				if st.CurrentStory != "" {
					fmt.Printf("Current story: %s\n", st.CurrentStory)
				}
				fmt.Printf("Progress: %d/%d stories completed\n", st.StoriesCompleted, st.StoriesTotal)
				if st.PendingGate != nil {
					fmt.Printf("Pending gate: %s (%d items)\n", st.PendingGate.ID, len(st.PendingGate.Items))
				}
				return nil
			})
		},
	}
}

func storiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stories",
		Short: "List backlog stories with status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				st := o.Status()
				if viper.GetBool("json") {
					return printJSON(st.Stories)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Priority", "Status", "Origin", "Pending", "Title"})
				for _, s := range st.Stories {
					tw.AppendRow(table.Row{s.ID, s.Priority, s.Status, s.Origin, s.Pending, s.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show the pending human gate request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				req := o.PendingRequest()
				if req == nil {
					fmt.Println("No pending decisions.")
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("Request %s for story %s\n", req.ID, req.StoryID)
				for _, item := range req.Items {
					fmt.Printf("\n[%s] %s\n  %s\n", item.Kind, item.ID, item.Question)
					for _, opt := range item.Options {
						marker := " "
						if opt.ID == item.Recommended {
							marker = "*"
						}
						fmt.Printf("  (%s)%s %s\n", opt.ID, marker, opt.Label)
					}
				}
				fmt.Println("\nAnswer with: haytham answer <request-id> item=option ...")
				return nil
			})
		},
	}
}

func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <request-id> <item=option> [item=option ...]",
		Short: "Submit choices for the pending gate request",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := make(gate.Response)
			for _, pair := range args[1:] {
				key, value, found := strings.Cut(pair, "=")
				if !found {
					return fmt.Errorf("malformed choice %q: expected item=option", pair)
				}
				resp[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			return withSession(func(o *orchestrator.Orchestrator) error {
				if err := o.SubmitResponse(args[0], resp); err != nil {
					return err
				}
				stage, err := o.Run()
				if err != nil {
					return err
				}
				fmt.Printf("Decisions recorded. Stopped at: %s\n", stage)
				return nil
			})
		},
	}
}

func readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Fetch the story ready for downstream work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				is, err := o.ReadyStory()
				if err != nil {
					return err
				}
				return printJSON(is)
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <story-id>",
		Short: "Acknowledge downstream completion of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				if err := o.MarkDownstreamComplete(args[0]); err != nil {
					return err
				}
				stage, err := o.Run()
				if err != nil {
					return err
				}
				st := o.Status()
				fmt.Printf("Story %s completed. Stopped at: %s (%d/%d)\n",
					args[0], stage, st.StoriesCompleted, st.StoriesTotal)
				return nil
			})
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <story-id> <detail>",
		Short: "Report a technical discovery from downstream work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(o *orchestrator.Orchestrator) error {
				if err := o.ReportDownstreamFailure(args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("Discovery recorded — run `haytham pending` to decide how to proceed.")
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("haytham v%s\n", haythamserver.Version)
		},
	}
}
