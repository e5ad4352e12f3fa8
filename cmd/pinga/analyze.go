package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pinga/internal/analyzer"
	"pinga/internal/channel"
	"pinga/pkg/jsonx"
	logx "pinga/pkg/logx"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		source  string
		headers []string
		render  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a webhook payload from a file or stdin and print the notification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			return analyze(in, cmd.OutOrStdout(), source, h, render)
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source hint (github, render, generic, ...)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as Name: value or name=value (repeatable)")
	cmd.Flags().BoolVar(&render, "telegram", false, "print the Telegram message text instead of JSON")
	return cmd
}

func analyze(in io.Reader, out io.Writer, source string, h analyzer.Headers, render bool) error {
	body, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	payload, err := jsonx.Decode(body)
	if err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	res := analyzer.Default(logx.Nop()).Analyze(payload, h, source)
	if render {
		_, err = fmt.Fprintln(out, channel.FormatTelegram(res.Notification))
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseHeaders(raw []string) (analyzer.Headers, error) {
	h := analyzer.Headers{}
	for _, kv := range raw {
		i := strings.IndexAny(kv, ":=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid header %q", kv)
		}
		h[strings.ToLower(strings.TrimSpace(kv[:i]))] = strings.TrimSpace(kv[i+1:])
	}
	return h, nil
}
