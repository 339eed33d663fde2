package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"convertd/pkg/client"
)

type apiFlags struct {
	url     string
	timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "api-url", "http://127.0.0.1:8080", "convertd daemon base URL")
	cmd.Flags().DurationVar(&f.timeout, "api-timeout", 3*time.Minute, "request timeout")
}

func (f *apiFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: f.url, Timeout: f.timeout})
}

func newConvertCmd() *cobra.Command {
	var api apiFlags
	var from, to, out string
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a local document via the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("--from and --to are required")
			}
			dest, err := api.client().ConvertFile(cmd.Context(), args[0], from, to, out)
			if err != nil {
				return err
			}
			fmt.Println(dest)
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "input format (doc, docx, ppt, pptx, xls)")
	cmd.Flags().StringVar(&to, "to", "", "output format (docx, pptx, xlsx, pdf)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: alongside input)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and engine status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := api.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	api.register(cmd)
	return cmd
}
