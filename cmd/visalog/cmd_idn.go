package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/skgsergio/visalog/lib/config"
	"github.com/skgsergio/visalog/lib/prompt"
	"github.com/skgsergio/visalog/lib/scpi"
	"github.com/skgsergio/visalog/lib/visa"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/multierr"
)

var idnJSONFlag bool

var idnCmd = &cobra.Command{
	Use:   "idn [resource]",
	Short: "Query the identity of an instrument",
	Long: `Query the identity of an instrument. Without a resource string the
instrument is picked from the list like in a full run.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		addr := ""
		if len(args) == 1 {
			addr = args[0]
		}
		if err := executeIdn(cfg, addr, idnJSONFlag); err != nil {
			jww.ERROR.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	idnCmd.Flags().BoolVarP(&idnJSONFlag, "json", "j", false, "Output in JSON format")
	rootCmd.AddCommand(idnCmd)
}

type idnOutput struct {
	Resource     string `json:"resource"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
	Raw          string `json:"raw"`
}

// executeIdn opens addr, or the instrument the user selects, and prints
// its identity.
func executeIdn(cfg *config.Config, addr string, jsonOutput bool) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mgr := buildManager(cfg)
	if addr == "" {
		addrs, listErr := mgr.ListResources()
		if listErr != nil {
			jww.WARN.Println(listErr)
		}
		idx, err := prompt.New(os.Stdin, os.Stderr).SelectDevice(ctx, addrs)
		if err != nil {
			return err
		}
		addr = addrs[idx]
	}

	sess, err := mgr.Open(ctx, addr, cfg.Session.Timeout)
	if err != nil {
		return err
	}
	if cfg.Trace {
		sess = visa.Trace(sess, jww.INFO)
	}
	defer func() { err = multierr.Append(err, sess.Close()) }()

	raw, err := sess.Query(cfg.Commands.Identify)
	if err != nil {
		return fmt.Errorf("querying identity: %w", err)
	}
	id, err := scpi.ParseIdentity(raw)
	if err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Println(id.String())
		return nil
	}
	out, err := json.MarshalIndent(idnOutput{
		Resource:     sess.Resource(),
		Manufacturer: id.Manufacturer(),
		Model:        id.Model(),
		Serial:       id.Serial(),
		Firmware:     id.Firmware(),
		Raw:          id.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
