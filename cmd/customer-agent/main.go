package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yinjg1997/customer-agent/agent"
	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/gateway"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/internal/version"
	"github.com/yinjg1997/customer-agent/server"
	"github.com/yinjg1997/customer-agent/store"
	"github.com/yinjg1997/customer-agent/store/db/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "customer-agent",
	Short: `Multi-tenant customer-service automation gateway for merchant chat channels.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load .env from the current directory; absence is fine.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile, err := loadProfile()
		if err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := sqlite.NewDB(instanceProfile)
		if err != nil {
			slog.Error("failed to open database", "dsn", instanceProfile.DSN, "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}
		defer storeInstance.Close()

		logger := slog.Default()
		bot := agent.NewCozeBot(logger, storeInstance,
			instanceProfile.AgentToken, instanceProfile.AgentBotID,
			agent.WithBaseURL(instanceProfile.AgentEndpoint),
			agent.WithTimeout(time.Duration(instanceProfile.AgentTimeout)*time.Second),
		)
		credentialer, err := buildCredentialer(logger, instanceProfile)
		if err != nil {
			slog.Error("invalid login command", "error", err)
			return
		}
		connector := gateway.NewPDDConnector(logger, storeInstance, instanceProfile, credentialer)
		supervisor := gateway.NewSupervisor(logger, storeInstance, instanceProfile, connector, bot)

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, supervisor)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}
		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			return
		}

		outcomes, err := supervisor.StartAll(ctx)
		if err != nil {
			slog.Error("failed to start account sessions", "error", err)
		}
		started := 0
		for _, outcome := range outcomes {
			if outcome.Err == nil {
				started++
			}
		}
		slog.Info("account sessions started", "started", started, "eligible", len(outcomes))

		printGreetings(instanceProfile)

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by kill and most
		// process managers.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-c
			supervisor.StopAll()
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Log in to the platform and persist the account for later sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		if instanceProfile.LoginCommand == "" {
			return errors.New("CUSTOMER_AGENT_LOGIN_COMMAND must point at a login helper to register accounts")
		}

		ctx := context.Background()
		dbDriver, err := sqlite.NewDB(instanceProfile)
		if err != nil {
			return errors.Wrap(err, "open database")
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			return errors.Wrap(err, "migrate")
		}
		defer storeInstance.Close()

		logger := slog.Default()
		credentialer, err := pdd.NewCommandCredentialer(logger, instanceProfile.LoginCommand)
		if err != nil {
			return err
		}
		bot := agent.NewCozeBot(logger, storeInstance,
			instanceProfile.AgentToken, instanceProfile.AgentBotID,
			agent.WithBaseURL(instanceProfile.AgentEndpoint),
			agent.WithTimeout(time.Duration(instanceProfile.AgentTimeout)*time.Second),
		)
		connector := gateway.NewPDDConnector(logger, storeInstance, instanceProfile, credentialer)
		supervisor := gateway.NewSupervisor(logger, storeInstance, instanceProfile, connector, bot)

		channel, _ := cmd.Flags().GetString("channel")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		account, err := supervisor.RegisterAccount(ctx, credentialer, channel, username, password)
		if err != nil {
			return err
		}
		fmt.Printf("account %s/%s registered as %q\n", account.ShopID, account.UserID, account.Username)
		return nil
	},
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func buildCredentialer(logger *slog.Logger, p *profile.Profile) (pdd.Credentialer, error) {
	if p.LoginCommand == "" {
		return nil, nil
	}
	return pdd.NewCommandCredentialer(logger, p.LoginCommand)
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	registerCmd.Flags().String("channel", "pdd", "chat channel of the account")
	registerCmd.Flags().String("username", "", "merchant account username")
	registerCmd.Flags().String("password", "", "merchant account password")
	for _, flag := range []string{"username", "password"} {
		if err := registerCmd.MarkFlagRequired(flag); err != nil {
			panic(err)
		}
	}
	rootCmd.AddCommand(registerCmd)

	viper.SetEnvPrefix("customer_agent")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("customer-agent %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if len(profile.Addr) == 0 {
		fmt.Printf("Admin surface on port %d\n", profile.Port)
	} else {
		fmt.Printf("Admin surface on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
