package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maximthomas/goradius/pkg/auth"
	"github.com/maximthomas/goradius/pkg/config"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/server"
	"github.com/maximthomas/goradius/pkg/session"
	"github.com/pkg/errors"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "goradius",
		Short: "goradius is a RADIUS server with pluggable modules",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, config.GetConfig()); err != nil {
				er(err)
			}
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Shown version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Instantiate every configured module, resolve sections and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check(context.Background(), config.GetConfig()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/goradius.yaml)")
	rootCmd.AddCommand(versionCmd, checkCmd)
}

func er(msg interface{}) {
	fmt.Println("Error:", msg)
	os.Exit(1)
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			er(err)
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName("goradius")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		er(err)
	}
	log.WithField("module", "cmd").Infof("Using config file: %s", viper.ConfigFileUsed())
	if err := config.InitConfig(); err != nil {
		er(err)
	}
}

func load(ctx context.Context, conf config.Config) (modules.Instances, *auth.Processor, error) {
	instances, err := modules.LoadInstances(ctx, conf.Modules)
	if err != nil {
		return nil, nil, err
	}
	processor, err := auth.NewProcessor(instances, conf.Sections)
	if err != nil {
		_ = instances.Detach()
		return nil, nil, err
	}
	return instances, processor, nil
}

func check(ctx context.Context, conf config.Config) error {
	instances, _, err := load(ctx, conf)
	if err != nil {
		return err
	}
	return instances.Detach()
}

// sessionStore returns the store of the first acct instance, if any.
func sessionStore(instances modules.Instances) session.Repository {
	inst, ok := instances.FirstOfType("acct")
	if !ok {
		return nil
	}
	if a, ok := inst.Module.(*modules.Acct); ok {
		return a.Sessions()
	}
	return nil
}

// run serves RADIUS and the admin API until ctx is done or a server fails.
func run(ctx context.Context, conf config.Config) error {
	logger := log.WithField("module", "cmd")
	instances, processor, err := load(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := instances.Detach(); err != nil {
			logger.Errorf("error detaching modules: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rs := server.NewRadiusServer(conf.Server, processor)
	radiusErr := make(chan error, 1)
	go func() {
		radiusErr <- errors.Wrap(rs.ListenAndServe(ctx), "radius server")
	}()
	var adminErr chan error
	if conf.Admin.Address != "" {
		adminErr = make(chan error, 1)
		go func() {
			adminErr <- errors.Wrap(server.RunAdmin(ctx, conf.Admin, processor, sessionStore(instances)), "admin server")
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-radiusErr:
		logger.Errorf("server stopped: %v", err)
	case err = <-adminErr:
		logger.Errorf("server stopped: %v", err)
		adminErr = nil
	}
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if serr := rs.Shutdown(shutdownCtx); serr != nil && err == nil {
		logger.Warnf("error shutting down radius server: %v", serr)
	}
	// Modules are detached only after in-flight admin requests are done.
	if adminErr != nil {
		if aerr := <-adminErr; aerr != nil && err == nil {
			logger.Warnf("error shutting down admin server: %v", aerr)
		}
	}
	return err
}
