package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	zotero "github.com/egorkaBurkenya/zotero-go"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "zotero",
		Short:         "Zotero Web API client",
		Long:          "Query the Zotero Web API and watch libraries through the streaming API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("host", zotero.DefaultHost, "API host")
	rootCmd.PersistentFlags().String("key", os.Getenv("ZOTERO_API_KEY"), "API key (default $ZOTERO_API_KEY)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log requests and stream events to stderr")

	rootCmd.AddCommand(newGetCommand(), newWatchCommand(), newVersionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newClient(cmd *cobra.Command) *zotero.Client {
	host, _ := cmd.Flags().GetString("host")
	key, _ := cmd.Flags().GetString("key")
	return zotero.New(
		zotero.WithHost(host),
		zotero.WithAPIKey(key),
		zotero.WithLogger(newLogger(cmd)),
	)
}

// newGetCommand constructs the `get` command.
func newGetCommand() *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path and print the response body",
		Example: "  zotero get /users/475425/items/top --param limit=5\n" +
			"  zotero get /groups/2829873/tags --all",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, _ := cmd.Flags().GetStringArray("param")
			all, _ := cmd.Flags().GetBool("all")
			headers, _ := cmd.Flags().GetBool("headers")

			query := url.Values{}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --param %q; expected key=value", p)
				}
				query.Add(k, v)
			}

			client := newClient(cmd)
			defer client.Close()

			ctx := cmd.Context()
			msg := client.Get(ctx, args[0], query, nil)
			for msg != nil {
				if err := msg.Wait(ctx); err != nil {
					return err
				}
				if headers {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d %s (version %d, total %d)\n",
						msg.Code(), msg.URL(), msg.Version(), msg.Total())
				}
				cmd.OutOrStdout().Write(msg.Raw())
				fmt.Fprintln(cmd.OutOrStdout())

				if !all {
					break
				}
				msg = msg.Next(ctx, nil)
			}
			return nil
		},
	}
	getCmd.Flags().StringArrayP("param", "p", nil, "Query parameter as key=value (repeatable)")
	getCmd.Flags().Bool("all", false, "Follow Link rel=\"next\" through every page")
	getCmd.Flags().Bool("headers", false, "Print status, version and total to stderr")
	return getCmd
}

// newWatchCommand constructs the `watch` command.
func newWatchCommand() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [topic...]",
		Short: "Stream change notifications for topics",
		Long: "Opens a streaming API connection and prints one line per event. " +
			"Without topics, every library the API key can access is watched.",
		Example: "  zotero watch /users/475425 /groups/2829873",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			streamURL, _ := cmd.Flags().GetString("url")
			if key == "" && len(args) == 0 {
				return fmt.Errorf("watch needs topics or an API key")
			}

			client := newClient(cmd)
			defer client.Close()

			out := cmd.OutOrStdout()
			stream := client.NewStream(
				zotero.WithStreamURL(streamURL),
				zotero.WithEventHandler(func(ev zotero.Event) {
					ts := time.Now().Format(time.TimeOnly)
					switch ev.Kind {
					case zotero.EventTopicUpdated:
						fmt.Fprintf(out, "%s %s %s version=%d\n", ts, ev.Kind, ev.Topic, ev.Version)
					case zotero.EventTopicAdded, zotero.EventTopicRemoved:
						fmt.Fprintf(out, "%s %s %s\n", ts, ev.Kind, ev.Topic)
					case zotero.EventClose:
						fmt.Fprintf(out, "%s %s code=%d\n", ts, ev.Kind, ev.Code)
					case zotero.EventError:
						fmt.Fprintf(out, "%s %s %v\n", ts, ev.Kind, ev.Err)
					default:
						fmt.Fprintf(out, "%s %s\n", ts, ev.Kind)
					}
				}),
			)

			if len(args) > 0 {
				sub := zotero.Subscription{APIKey: key, Topics: args}
				if err := stream.Subscribe([]zotero.Subscription{sub}, nil); err != nil {
					return err
				}
			}
			if err := stream.Open(); err != nil {
				return err
			}

			<-cmd.Context().Done()
			return stream.Close()
		},
	}
	watchCmd.Flags().String("url", zotero.DefaultStreamURL, "Streaming API endpoint")
	return watchCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "zotero-go", zotero.Version)
		},
	}
}
