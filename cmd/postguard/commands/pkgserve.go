package commands

import (
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/pkgserver"
)

var pkgServeListen string

var pkgServeCmd = &cobra.Command{
	Use:   "pkg-serve",
	Short: "Run a Private Key Generator server",
	Long: `pkg-serve starts a PKG HTTP server: it generates a fresh master key pair
on startup (master keys are held in memory only and never persisted, per
PostGuard's threat model) and serves the parameter-discovery, session, and
key-issuance endpoints.

The identity-provider integration (IRMA/Yivi) this builds on is out of
scope; pkg-serve runs with an in-memory session provider suitable for
development and testing, not production attribute disclosure.`,
	RunE: runPkgServe,
}

func init() {
	pkgServeCmd.Flags().StringVar(&pkgServeListen, "listen", "", "listen address (default: config's server.listen_addr)")
}

func runPkgServe(cmd *cobra.Command, args []string) error {
	scheme := ibe.Scheme{}
	keys, err := pkgserver.GenerateMasterKeyPair(scheme)
	if err != nil {
		return err
	}

	provider := pkgserver.NewInMemoryProvider()
	srv := pkgserver.NewServer(keys, scheme, provider, log)

	addr := pkgServeListen
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	log.Info("pkg-serve listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, srv.Router())
}
