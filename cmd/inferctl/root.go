package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"inferd/pkg/types"
)

// buildRootCmd constructs the cobra command tree over one shared client.
func buildRootCmd() *cobra.Command {
	defaultAddr := os.Getenv("INFERD_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:8080"
	}

	var addr string
	var cli *client
	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Client for the inferd model daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli = newClient(addr)
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "inferd base URL (defaults INFERD_ADDR)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog models and their artifact state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.ModelsResponse
			if err := cli.getJSON(cmd.Context(), "/v1/models", &resp); err != nil {
				return err
			}
			for _, m := range resp.Models {
				state := "absent"
				if m.Artifact.Present {
					state = fmt.Sprintf("present %s", humanBytes(m.Artifact.SizeBytes))
				}
				fmt.Printf("%-28s %-16s %s\n", m.Name, m.Kind, state)
			}
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show daemon session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.StatusResponse
			if err := cli.getJSON(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			fmt.Printf("state: %s\n", resp.State)
			if resp.Current != "" {
				fmt.Printf("current: %s\n", resp.Current)
			}
			if resp.Loading != nil {
				fmt.Printf("loading: %s (%s / %s)\n", resp.Loading.Model,
					humanBytes(resp.Loading.Completed), humanBytes(resp.Loading.Total))
			}
			fmt.Printf("loads: %d  evictions: %d  downloads: %d\n",
				resp.LoadsTotal, resp.EvictionsTotal, resp.DownloadsTotal)
			if resp.LastError != "" {
				fmt.Printf("last error: %s\n", resp.LastError)
			}
			return nil
		},
	}

	pull := &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cli.stream(cmd.Context(), "/v1/models/"+args[0]+"/pull", nil, func(line []byte) error {
				var ev types.PullEvent
				if err := json.Unmarshal(line, &ev); err != nil {
					return err
				}
				switch ev.Status {
				case "pulling":
					fmt.Fprintf(os.Stderr, "\rpulling %s / %s", humanBytes(ev.Completed), humanBytes(ev.Total))
				case "success":
					fmt.Fprintf(os.Stderr, "\ndone\n")
				case "error":
					fmt.Fprintln(os.Stderr)
					return fmt.Errorf("pull failed: %s", ev.Error)
				}
				return nil
			})
			return err
		},
	}

	rm := &cobra.Command{
		Use:   "rm <model>",
		Short: "Delete a model artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.do(cmd.Context(), "DELETE", "/v1/models/"+args[0])
		},
	}

	var maxTokens int
	var stopTokens []string
	generate := &cobra.Command{
		Use:   "generate <model> <prompt...>",
		Short: "Stream a generation to stdout",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.GenerateRequest{
				Model: args[0],
				Messages: []types.Message{
					{Role: types.RoleUser, Content: strings.Join(args[1:], " ")},
				},
				MaxTokens:       maxTokens,
				ExtraStopTokens: stopTokens,
			}
			err := cli.stream(cmd.Context(), "/v1/generate", req, func(line []byte) error {
				var ev types.GenerationEvent
				if err := json.Unmarshal(line, &ev); err != nil {
					return err
				}
				switch ev.Type {
				case types.EventChunk:
					fmt.Print(ev.Chunk)
				case types.EventToolCall:
					fmt.Fprintf(os.Stderr, "\ntool call: %s(%s)\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
				case types.EventCompletion:
					fmt.Fprintf(os.Stderr, "\n%d tokens, %.1f tok/s\n",
						ev.Completion.TokenCount, ev.Completion.TokensPerSecond)
				default:
					// A terminal error line uses the error payload shape.
					var e types.ErrorResponse
					if json.Unmarshal(line, &e) == nil && e.Error != "" {
						return fmt.Errorf("generation failed: %s", e.Error)
					}
				}
				return nil
			})
			return err
		},
	}
	generate.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum new tokens (0 = backend default)")
	generate.Flags().StringSliceVar(&stopTokens, "stop", nil, "Extra stop tokens for this request")

	unload := &cobra.Command{
		Use:   "unload",
		Short: "Unload the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.do(cmd.Context(), "POST", "/v1/unload")
		},
	}

	root.AddCommand(list, status, pull, rm, generate, unload)
	return root
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for u := n / unit; u >= unit; u /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
