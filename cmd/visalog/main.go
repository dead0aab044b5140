package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skgsergio/visalog/lib/config"
	"github.com/skgsergio/visalog/lib/live"
	"github.com/skgsergio/visalog/lib/runner"
	"github.com/skgsergio/visalog/lib/visa"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "visalog",
	Short: "visalog - instrument data logger",
	Long: `visalog lists the instruments it can reach and lets you pick one. It
waits for the instrument to request service after INIT, asks for the
voltage and current setpoints and then logs measurements to an xlsx
workbook until interrupted with Ctrl+C.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := executeRun(cfg); err != nil {
			jww.ERROR.Println(err)
			os.Exit(1)
		}
		fmt.Println("Data Acquired")
		fmt.Println("Application Complete")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Disable the default help command (use --help flag instead)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	d := config.Default()
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is visalog.yaml)")
	pf.DurationP("timeout", "t", d.Session.Timeout, "Instrument I/O timeout")
	pf.Bool("sim", d.Resources.Sim, "Offer a simulated power supply")
	pf.StringSlice("tcp", d.Resources.TCP, "host[:port] of raw socket instruments")
	pf.Bool("trace", d.Trace, "Log every command sent to the instrument")
	pf.BoolP("verbose", "v", d.Verbose, "Enable verbose output")

	f := rootCmd.Flags()
	f.StringP("output-dir", "o", d.Output.Dir, "Directory for the workbook")
	f.DurationP("interval", "i", d.Timing.Interval, "Pause between samples")
	f.IntP("max-samples", "n", d.MaxSamples, "Stop after this many samples (0 runs until Ctrl+C)")
	f.Bool("skip-event", d.Events.Skip, "Do not wait for a service request before logging")
	f.Bool("validate-setpoints", d.ValidateSetpoints, "Reject setpoints outside the reported range")
	f.String("live", d.Live.Addr, "Serve samples over websocket on this address (e.g. :8080)")

	for key, flag := range map[string]string{
		"session.timeout":    "timeout",
		"resources.sim":      "sim",
		"resources.tcp":      "tcp",
		"trace":              "trace",
		"verbose":            "verbose",
		"output.dir":         "output-dir",
		"timing.interval":    "interval",
		"max_samples":        "max-samples",
		"events.skip":        "skip-event",
		"validate_setpoints": "validate-setpoints",
		"live.addr":          "live",
	} {
		fl := pf.Lookup(flag)
		if fl == nil {
			fl = f.Lookup(flag)
		}
		viper.BindPFlag(key, fl)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName("visalog")
	viper.AddConfigPath("/etc/visalog/")
	viper.AddConfigPath("$HOME/.visalog/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("VISALOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if viper.GetBool("verbose") {
		jww.SetStdoutThreshold(jww.LevelDebug)
	} else if viper.GetBool("trace") {
		jww.SetStdoutThreshold(jww.LevelInfo)
	}

	err := viper.ReadInConfig()
	if err == nil {
		jww.DEBUG.Println("Using config file:", viper.ConfigFileUsed())
		return
	}
	var notFound viper.ConfigFileNotFoundError
	if cfgFile != "" || !errors.As(err, &notFound) {
		jww.ERROR.Println(err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig decodes the merged configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		jww.ERROR.Println(err)
		os.Exit(1)
	}
	return cfg
}

// buildManager returns a resource manager for every configured interface.
// Ports owned by the Prologix adapter or TC66C meters are not listed as
// plain serial instruments.
func buildManager(cfg *config.Config) *visa.ResourceManager {
	var backends []visa.Backend

	if cfg.Resources.Serial {
		exclude := append([]string(nil), cfg.Resources.TC66...)
		if cfg.Prologix.Port != "" {
			exclude = append(exclude, cfg.Prologix.Port)
		}
		backends = append(backends, &visa.SerialBackend{
			BaudRate: cfg.Resources.SerialBaud,
			Exclude:  exclude,
		})
	}
	if len(cfg.Resources.TCP) > 0 {
		backends = append(backends, &visa.TCPBackend{Hosts: cfg.Resources.TCP})
	}
	if cfg.Prologix.Port != "" {
		backends = append(backends, &visa.PrologixBackend{
			Port:      cfg.Prologix.Port,
			BaudRate:  cfg.Prologix.Baud,
			Addresses: cfg.Resources.GPIB,
			AR488:     cfg.Prologix.AR488,
		})
	}
	if len(cfg.Resources.TC66) > 0 {
		backends = append(backends, &visa.TC66Backend{Ports: cfg.Resources.TC66})
	}
	if cfg.Resources.Sim {
		backends = append(backends, &visa.SimBackend{
			Instruments: []*visa.Simulator{visa.NewDemoSimulator("psu")},
		})
	}

	return visa.NewResourceManager(backends...)
}

// executeRun performs one acquisition run. Ctrl+C stops logging; before
// logging starts it aborts the run.
func executeRun(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner.Runner{
		Config:  cfg,
		Manager: buildManager(cfg),
		In:      os.Stdin,
		Out:     os.Stdout,
		Log:     jww.DEBUG,
	}
	if cfg.Trace {
		r.Trace = jww.INFO
	}

	if cfg.Live.Addr != "" {
		hub := live.NewHub(jww.DEBUG)
		r.Hub = hub

		liveCtx, cancel := context.WithCancel(context.Background())
		ready := make(chan net.Addr, 1)
		errc := make(chan error, 1)
		go func() { errc <- live.Serve(liveCtx, cfg.Live.Addr, hub, ready) }()
		defer func() {
			cancel()
			if err := <-errc; err != nil {
				jww.ERROR.Println(err)
			}
		}()

		select {
		case addr := <-ready:
			fmt.Fprintf(os.Stderr, "Live samples on ws://%s/ws\n", addr)
		case err := <-errc:
			errc <- nil
			return err
		}
	}

	start := time.Now()
	res, err := r.Run(ctx)
	jww.DEBUG.Printf("run ended in state %s after %s", r.State(), time.Since(start).Round(time.Millisecond))
	if err != nil {
		return err
	}

	jww.INFO.Printf("%d samples (%d malformed) written to %s", res.Summary.Samples, res.Summary.Errors, res.File)
	return nil
}
