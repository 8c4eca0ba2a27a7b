package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/kioskpush/internal/addressbook"
	"github.com/danmuck/kioskpush/internal/config"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/danmuck/kioskpush/internal/sender"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "kioskctl.toml"

var errSomeFailed = errors.New("one or more kiosks failed")

var rootCmd = &cobra.Command{
	Use:           "kioskctl",
	Short:         "Push images to kiosk displays.",
	Long:          `kioskctl sends images and display commands to kioskd receivers listed in an address book or given on the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitLogger("kioskctl")
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to the kioskctl TOML config")
	rootCmd.PersistentFlags().String("book", "", "Address book path (overrides address_book in config)")
	rootCmd.PersistentFlags().Bool("no-wait", false, "Do not wait for the kiosk's acknowledgement")
}

// setup resolves config, address book and targets shared by every subcommand.
func setup(cmd *cobra.Command, selectors []string) (*sender.Client, []sender.Target, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSenderConfig(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, nil, err
		}
		cfg = config.DefaultSenderConfig()
	}
	if book, _ := cmd.Flags().GetString("book"); book != "" {
		cfg.AddressBook = book
	}
	clientCfg := cfg.ClientConfig()
	if noWait, _ := cmd.Flags().GetBool("no-wait"); noWait {
		clientCfg.WaitAck = false
	}

	book, err := addressbook.Load(cfg.AddressBook)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || len(selectors) == 0 {
			return nil, nil, err
		}
		book = &addressbook.Book{}
	}
	targets, err := book.Targets(selectors...)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("no kiosks selected (address book %s is empty)", cfg.AddressBook)
	}
	return sender.NewClient(clientCfg), targets, nil
}

func finish(title string, results []sender.Result) error {
	fmt.Fprintln(os.Stdout, renderResults(title, results))
	for _, res := range results {
		if res.Err != nil {
			return errSomeFailed
		}
	}
	return nil
}
