package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lakowske/podserve/bundlestore"
	"github.com/lakowske/podserve/cryptoutils"
	"github.com/lakowske/podserve/interfaces"
)

// Exit codes are distinct so calling infrastructure can tell "retry later"
// from "fix the configuration".
const (
	ExitOK        = 0
	ExitTransient = 1
	ExitConfig    = 2
)

// exitCode maps an error to the command's exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case interfaces.IsTerminal(err), errors.Is(err, interfaces.ErrUnknownDomain):
		return ExitConfig
	default:
		return ExitTransient
	}
}

// commandExit converts an error into a CLI exit error carrying the mapped
// code.
func commandExit(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), exitCode(err))
}

// severity is the exit-code contribution of one domain's state.
func severity(st interfaces.DomainStatus) int {
	switch st.State {
	case interfaces.StateFresh, interfaces.StateRenewing:
		return ExitOK
	case interfaces.StateConfigError:
		return ExitConfig
	default:
		return ExitTransient
	}
}

// printStatus writes the per-domain report and returns the worst severity
// across all domains.
func printStatus(w io.Writer, sts []interfaces.DomainStatus, now time.Time) int {
	worst := ExitOK
	for _, st := range sts {
		fmt.Fprintf(w, "%-30s %-10s ready=%-5v %s\n", st.Domain, st.Method, st.Ready, st.Summary(now))
		if s := severity(st); s > worst {
			worst = s
		}
	}
	return worst
}

// ocspLine queries revocation status for a stored ACME bundle. Best effort:
// failures are reported in the line, never as a command error.
func ocspLine(ctx context.Context, store *bundlestore.FileStore, domain string) string {
	b, err := store.Get(ctx, domain)
	if err != nil {
		return fmt.Sprintf("ocsp: unavailable (%v)", err)
	}
	if len(b.ChainPEM) == 0 {
		return "ocsp: not applicable (no issuer chain)"
	}

	status, err := cryptoutils.CheckOCSP(ctx, nil, b.CertPEM, b.ChainPEM)
	if err != nil {
		if errors.Is(err, cryptoutils.ErrNoOCSPResponder) {
			return "ocsp: not applicable (no responder)"
		}
		return fmt.Sprintf("ocsp: query failed (%v)", err)
	}
	if status.Revoked {
		return fmt.Sprintf("ocsp: revoked at %s", status.RevokedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("ocsp: %s (next update %s)", status.Status, status.NextUpdate.Format(time.RFC3339))
}
