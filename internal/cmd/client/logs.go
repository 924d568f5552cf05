package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	transports "github.com/rzbill/logfan/internal/cmd/client/transports"
)

// newPublishCommand constructs the `publish` command.
func newPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish log lines",
		Long:  "Publish log lines from --data, --file or stdin. Each line becomes one record unless it is already a JSON object.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idFlags, _ := cmd.Flags().GetStringSlice("identifier")
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			stream, _ := cmd.Flags().GetString("stream")
			ids := splitIdentifiers(idFlags)

			var in io.Reader
			switch {
			case data != "":
				in = strings.NewReader(data)
			case file == "-" || file == "":
				in = cmd.InOrStdin()
			default:
				f, err := os.Open(file)
				if err != nil {
					return errors.Annotatef(err, "open %s", file)
				}
				defer f.Close()
				in = f
			}
			records, err := recordsFromLines(in, ids, stream)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("nothing to publish")
			}
			positions, err := transports.NewHTTPTransport(baseURL()).Publish(cmd.Context(), records)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK published=%d\n", len(positions))
			return nil
		},
	}
	cmd.Flags().StringSliceP("identifier", "i", nil, "Identifier(s) attached to every line")
	cmd.Flags().String("data", "", "Inline log text")
	cmd.Flags().String("file", "", "File to read lines from (- for stdin)")
	cmd.Flags().String("stream", "", "Output stream name (stdout|stderr)")
	return cmd
}

// newTailCommand constructs the `tail` command.
func newTailCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Subscribe to identifiers and print delivered records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idFlags, _ := cmd.Flags().GetStringSlice("identifier")
			token, _ := cmd.Flags().GetString("token")
			mode, _ := cmd.Flags().GetString("mode")
			filter, _ := cmd.Flags().GetString("filter")
			ignore, _ := cmd.Flags().GetBool("ignore")
			limit, _ := cmd.Flags().GetInt("limit")
			raw, _ := cmd.Flags().GetBool("json")

			ids := splitIdentifiers(idFlags)
			if len(ids) == 0 {
				return errors.New("at least one --identifier is required")
			}
			if token == "" {
				token = os.Getenv("LOGFAN_TOKEN")
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			return transports.NewHTTPTransport(baseURL()).Tail(cmd.Context(), transports.TailRequest{
				Token:       token,
				Identifiers: ids,
				Mode:        mode,
				Filter:      filter,
				Ignore:      ignore,
				Limit:       limit,
			}, func(r transports.Record) error {
				if raw {
					return enc.Encode(r)
				}
				var rec struct {
					Time   string `json:"time"`
					Stream string `json:"stream"`
					Log    string `json:"log"`
				}
				if err := json.Unmarshal(r, &rec); err != nil {
					return errors.Annotate(err, "decode record")
				}
				_, err := fmt.Fprintf(out, "%s [%s] %s\n", rec.Time, rec.Stream, rec.Log)
				return err
			})
		},
	}
	cmd.Flags().StringSliceP("identifier", "i", nil, "Identifier(s) to subscribe to")
	cmd.Flags().String("token", "", "Bearer token (default $LOGFAN_TOKEN)")
	cmd.Flags().String("mode", "", "Normalization mode: build|inference|raw")
	cmd.Flags().String("filter", "", "CEL filter (server-side)")
	cmd.Flags().Bool("ignore", false, "Do not blank sensitive lines")
	cmd.Flags().Int("limit", 0, "Stop after N records (0 = infinite)")
	cmd.Flags().Bool("json", false, "Print records as JSON")
	return cmd
}

// newConnectionsCommand constructs the `connections` command.
func newConnectionsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List registered connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(baseURL(), "/")+"/v1/connections", nil)
			if err != nil {
				return errors.Trace(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return errors.Annotate(err, "list connections")
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return errors.Errorf("list connections: %s", resp.Status)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
}

// newHealthCommand constructs the `health` command.
func newHealthCommand(grpcAddr AddrFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := transports.NewGrpcTransport(grpcAddr()).Health(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
}
