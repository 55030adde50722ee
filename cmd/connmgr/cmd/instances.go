package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nmoagit/x121-sub001/internal/logging"
	"github.com/nmoagit/x121-sub001/internal/store"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List registered remote instances",
	RunE:  runInstancesList,
}

var instancesAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a remote instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesAdd,
}

var (
	instancesAll bool
	addWSURL     string
	addAPIURL    string
	addDisabled  bool
)

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesAddCmd)

	instancesCmd.Flags().BoolVarP(&instancesAll, "all", "a", false, "include disabled instances")

	instancesAddCmd.Flags().StringVar(&addWSURL, "ws-url", "", "WebSocket base URL (ws:// or wss://)")
	instancesAddCmd.Flags().StringVar(&addAPIURL, "api-url", "", "HTTP API base URL")
	instancesAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "register without connecting on the next start")
	_ = instancesAddCmd.MarkFlagRequired("ws-url")
	_ = instancesAddCmd.MarkFlagRequired("api-url")
}

func runInstancesList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg.Store, logging.NewNop())
	if err != nil {
		return err
	}
	defer st.Close()

	var instances []store.Instance
	if instancesAll {
		instances, err = st.ListInstances(ctx)
	} else {
		instances, err = st.ListEnabledInstances(ctx)
	}
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	printInstances(cmd.OutOrStdout(), instances)
	return nil
}

func printInstances(out io.Writer, instances []store.Instance) {
	if len(instances) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No instances registered.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tWS URL\tLAST CONNECTED\tATTEMPTS")
	for _, inst := range instances {
		enabled := color.GreenString("yes")
		if !inst.Enabled {
			enabled = color.RedString("no")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n",
			inst.ID, inst.Name, enabled, inst.WSURL, formatTime(inst.LastConnectedAt), inst.ReconnectAttempts)
	}
	w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func runInstancesAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg.Store, logging.NewNop())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	inst, err := st.CreateInstance(ctx, store.NewInstance{
		Name:    args[0],
		WSURL:   addWSURL,
		APIURL:  addAPIURL,
		Enabled: !addDisabled,
	})
	if err != nil {
		return fmt.Errorf("add instance %s: %w", args[0], err)
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Registered instance %s (id %d)\n", inst.Name, inst.ID)
	return nil
}
