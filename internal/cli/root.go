package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/idcstack/idc-control-plane/internal/panel"
)

// PanelAPI is the subset of the panel client the operator commands use.
type PanelAPI interface {
	ListInstances(ctx context.Context) ([]panel.Instance, error)
	BatchOperation(ctx context.Context, ids []string, op panel.Operation) []panel.BatchResult
	WaitForServerStart(ctx context.Context, id string, maxWait time.Duration) error
	ChangePort(ctx context.Context, id string, port int) error
}

// ClientFactory builds a panel client from the resolved connection flags.
type ClientFactory func(baseURL, apiKey string) (PanelAPI, error)

func defaultClientFactory(baseURL, apiKey string) (PanelAPI, error) {
	c, err := panel.NewClient(panel.Options{BaseURL: baseURL, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return c, nil
}

type rootOptions struct {
	panelURL  string
	panelKey  string
	output    string
	newClient ClientFactory
	getenv    func(string) string
}

// client resolves flags, falling back to the same IDC_* variables the server reads.
func (o *rootOptions) client() (PanelAPI, error) {
	url := o.panelURL
	if url == "" {
		url = o.getenv("IDC_PANEL_BASE_URL")
	}
	key := o.panelKey
	if key == "" {
		key = o.getenv("IDC_PANEL_API_KEY")
	}
	if url == "" {
		return nil, errors.New("panel url is required (--panel-url or IDC_PANEL_BASE_URL)")
	}
	return o.newClient(url, key)
}

func (o *rootOptions) print(w io.Writer, v any) error {
	return render(w, o.output, v)
}

// NewRootCommand assembles panelctl. A nil factory uses the HTTP panel client.
func NewRootCommand(newClient ClientFactory) *cobra.Command {
	if newClient == nil {
		newClient = defaultClientFactory
	}
	opts := &rootOptions{newClient: newClient, getenv: os.Getenv}

	root := &cobra.Command{
		Use:           "panelctl",
		Short:         "Operate MCSManager instances and mint API tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case formatJSON, formatYAML:
				return nil
			}
			return fmt.Errorf("unsupported output format %q (json or yaml)", opts.output)
		},
	}
	root.PersistentFlags().StringVar(&opts.panelURL, "panel-url", "", "panel base URL (default $IDC_PANEL_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.panelKey, "panel-key", "", "panel API key (default $IDC_PANEL_API_KEY)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatJSON, "output format: json, yaml")

	root.AddCommand(newInstancesCommand(opts))
	root.AddCommand(newTokenCommand(opts))
	return root
}

// Execute runs panelctl against os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
