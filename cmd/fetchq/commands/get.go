package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/request"
)

var (
	getHeaders []string
	getVerbose bool
	getNoCache bool
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Fetch a URL and print its body",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	getCmd.Flags().BoolVarP(&getVerbose, "verbose", "v", false, "print status and call metrics to stderr")
	getCmd.Flags().BoolVar(&getNoCache, "no-cache", false, "send Cache-Control: no-cache")
}

func runGet(cmd *cobra.Command, args []string) error {
	p, err := parsePriority(priority)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(getHeaders)
	if err != nil {
		return err
	}

	opts := []request.Option{
		request.WithPriority(p),
		request.WithShape(request.ShapeString),
		request.WithHeaders(headers),
	}
	if getNoCache {
		opts = append(opts, request.WithNoCache())
	}

	d, err := request.Get(args[0], opts...)
	if err != nil {
		return err
	}

	return withEngine(cmd, func(ctx context.Context, e *fetchq.Engine) error {
		res := e.Execute(ctx, d)

		if getVerbose {
			m := res.Metrics
			cmd.PrintErrf("status=%d elapsed=%s received=%d cache_hit=%t quality=%s\n",
				m.StatusCode, m.Elapsed, m.BytesReceived, m.CacheHit, e.Quality())
		}

		if res.Err != nil {
			return res.Err
		}

		fmt.Fprint(cmd.OutOrStdout(), res.Value)
		return nil
	})
}

func parseHeaders(raw []string) (map[string][]string, error) {
	headers := make(map[string][]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header %q, want 'Name: value'", h)
		}
		name = strings.TrimSpace(name)
		headers[name] = append(headers[name], strings.TrimSpace(value))
	}
	return headers, nil
}
