package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
	"github.com/christoph-codes/RecallAI-sub000/server"
	"github.com/christoph-codes/RecallAI-sub000/store"
	"github.com/christoph-codes/RecallAI-sub000/store/db/postgres"
	"github.com/christoph-codes/RecallAI-sub000/store/db/sqlite"
)

const greetingBanner = `Recall: memory that follows the conversation.`

var (
	instanceProfile *profile.Profile

	rootCmd = &cobra.Command{
		Use:   "recall",
		Short: "A memory store with retrieval-augmented completion",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			driver, err := newDBDriver(instanceProfile)
			if err != nil {
				slog.Error("failed to create db driver", "error", err)
				return
			}

			storeInstance := store.New(driver, instanceProfile)
			if err := storeInstance.Migrate(ctx); err != nil {
				slog.Error("failed to migrate", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-c
				slog.Info(fmt.Sprintf("received signal %s, shutting down", sig))
				s.Shutdown(ctx)
				cancel()
			}()

			printGreetings()

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				return
			}

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func newDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, fmt.Errorf("unknown db driver %q", profile.Driver)
	}
}

func printGreetings() {
	fmt.Printf("%s\nversion %s, mode %s, driver %s\n", greetingBanner, instanceProfile.Version, instanceProfile.Mode, instanceProfile.Driver)
	fmt.Printf("listening on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	if err := viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("data", rootCmd.PersistentFlags().Lookup("data")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	instanceProfile = &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Secret:  viper.GetString("secret"),
		Version: "0.1.0",
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		fmt.Printf("failed to validate profile, error: %+v\n", err)
		os.Exit(1)
	}
	if instanceProfile.Secret == "" {
		instanceProfile.Secret = instanceProfile.Mode
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("failed to run command, error: %+v\n", err)
		os.Exit(1)
	}
}
