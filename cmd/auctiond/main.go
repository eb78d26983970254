// auctiond hosts a sealed-bid auction over the confidential engine.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/confidential"
	"github.com/luxfi/confidential/internal/store"
	"github.com/luxfi/confidential/server"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "auctiond",
	Short: "Sealed-bid auction daemon",
	Long: `auctiond runs a sealed-bid auction in which bid amounts stay
encrypted for the whole life of the auction. Bidders submit
proof-carrying ciphertexts; only the identity of the current leading
bidder is public, and the winning amount is revealed after close.`,
	Version: fmt.Sprintf("%s (built %s)", version, buildDate),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8080", "listen address")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().String("auctioneer", "", "auctioneer principal (0x-hex, 20 bytes)")
	serveCmd.Flags().Duration("duration", time.Hour, "time until the auction closes")
	serveCmd.Flags().String("proof-key", "", "hex proof verification key")
	serveCmd.Flags().String("store", "memory", "material store: memory, file, redis")
	serveCmd.Flags().String("data-dir", "./data", "directory for the file store")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "redis address")
	serveCmd.Flags().String("redis-password", "", "redis password")
	serveCmd.Flags().Int("redis-db", 0, "redis database")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the auction API",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := buildViper(cmd.Flags())
		if err != nil {
			return err
		}
		return serve(v)
	},
}

// buildViper binds flags and environment. Flag names map to env vars
// with hyphens replaced by underscores (e.g. AUCTIOND_PROOF_KEY).
func buildViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("auctiond")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

func serve(v *viper.Viper) error {
	auctioneer, err := confidential.PrincipalFromString(v.GetString("auctioneer"))
	if err != nil {
		return fmt.Errorf("invalid auctioneer: %w", err)
	}

	proofKey, err := hex.DecodeString(v.GetString("proof-key"))
	if err != nil {
		return fmt.Errorf("invalid proof key: %w", err)
	}
	if len(proofKey) == 0 {
		return fmt.Errorf("proof key required")
	}

	logLevel, err := luxlog.ToLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := luxlog.NewLogger("auctiond",
		*luxlog.NewWrappedCore(logLevel, os.Stdout, luxlog.JSON.ConsoleEncoder()),
	)

	st, err := buildStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(server.Config{
		Address:    v.GetString("listen"),
		Auctioneer: auctioneer,
		CloseTime:  time.Now().Add(v.GetDuration("duration")),
		BidType:    confidential.Uint64,
		ProofKey:   proofKey,
		Store:      st,
		Log:        logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:    v.GetString("listen"),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			luxlog.String("address", httpSrv.Addr),
			luxlog.Stringer("context", srv.Auction().Context()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", luxlog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func buildStore(v *viper.Viper) (store.Store, error) {
	switch v.GetString("store") {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(v.GetString("data-dir"))
	case "redis":
		return store.NewRedis(store.RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
		}, "auction")
	default:
		return nil, fmt.Errorf("unknown store %q", v.GetString("store"))
	}
}
