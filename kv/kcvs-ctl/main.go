package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinykcv/kv/backend"
	"github.com/pingcap-incubator/tinykcv/kv/config"
	"github.com/pingcap-incubator/tinykcv/kv/kcv"
	"github.com/pingcap-incubator/tinykcv/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	backendName string
	directory   string
	snapshotDir string

	globalBackend *backend.Backend
)

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if backendName != "" {
		conf.Storage.Backend = backendName
	}
	if directory != "" {
		conf.Storage.Directory = directory
	}
	return conf, nil
}

func openBackend(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if conf.LogFile != "" {
		if err := log.InitFileLogger(conf.LogLevel, conf.LogFile); err != nil {
			return err
		}
	} else {
		log.SetLevelByString(conf.LogLevel)
	}
	globalBackend, err = backend.Open(conf)
	if err != nil {
		return err
	}
	if snapshotDir != "" {
		return restoreSnapshot(snapshotDir)
	}
	return nil
}

func closeBackend() {
	if globalBackend == nil {
		return
	}
	if err := globalBackend.Close(); err != nil {
		log.Errorf("close backend: %v", err)
	}
	globalBackend = nil
}

func main() {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		select {
		case <-sc:
			fmt.Printf("\nGot signal [%v] again to exit.\n", sig)
			os.Exit(1)
		case <-time.After(10 * time.Second):
			fmt.Print("\nWait 10s for closed, force exit\n")
			os.Exit(1)
		case <-closeDone:
			return
		}
	}()

	rootCmd := &cobra.Command{
		Use:               "kcvs-ctl",
		Short:             "Inspect and load key-column-value stores",
		PersistentPreRunE: openBackend,
		SilenceUsage:      true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "storage backend, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&directory, "dir", "", "storage directory, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&snapshotDir, "snapshot", "",
		"in-memory snapshot directory, restored before the command and written after mutating commands")

	rootCmd.AddCommand(
		newLoadCommand(),
		newSliceCommand(),
		newKeysCommand(),
		newDumpCommand(),
		newRestoreCommand(),
	)

	cobra.EnablePrefixMatching = true

	code := 0
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error code: %s\n", kcv.CodeOf(err).CodeStr())
		code = 1
	}
	closeBackend()
	log.Sync()
	closeDone <- struct{}{}
	os.Exit(code)
}
