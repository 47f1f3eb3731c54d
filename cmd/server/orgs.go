package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hpn/hpn-c-relay/internal/config"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/security"
)

var orgsFlags struct {
	concurrency int
	timeout     time.Duration
}

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Resolve the organization of every configured session",
	Long: `Resolve the organization id of every configured session and print it.

The output can be pasted back into HPN_SESSIONS as "key:org" entries so the
relay skips the lookup on first use. Keys are masked in the output.`,
	RunE: runOrgs,
}

func init() {
	rootCmd.AddCommand(orgsCmd)

	orgsCmd.Flags().IntVar(&orgsFlags.concurrency, "concurrency", 4, "parallel lookups")
	orgsCmd.Flags().DurationVar(&orgsFlags.timeout, "timeout", 30*time.Second, "overall lookup timeout")
}

// orgResult is the outcome of one lookup.
type orgResult struct {
	SessionKey     string
	OrganizationID string
	Err            error
}

func runOrgs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(cmd.Context(), orgsFlags.timeout)
	defer cancel()

	results := resolveOrganizations(ctx, cfg, cfg.Credentials(), orgsFlags.concurrency, logger)
	failed := printOrgResults(cmd.OutOrStdout(), results)
	if failed > 0 {
		return fmt.Errorf("%d of %d sessions could not be resolved", failed, len(results))
	}
	return nil
}

// resolveOrganizations looks up every credential without a preset
// organization. Results keep the input order.
func resolveOrganizations(ctx context.Context, cfg *config.Configuration, creds []domain.Credential, concurrency int, logger *slog.Logger) []orgResult {
	factory := clientFactory(cfg, nil, logger)
	results := make([]orgResult, len(creds))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, cred := range creds {
		i, cred := i, cred // per-iteration copy (pre-Go 1.22 loop semantics)
		results[i] = orgResult{SessionKey: cred.SessionKey, OrganizationID: cred.OrganizationID}
		if cred.HasOrganization() {
			continue
		}

		g.Go(func() error {
			orgID, err := factory(cred).ResolveOrganization(gctx)
			results[i].OrganizationID = orgID
			results[i].Err = err
			// A failed session must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func printOrgResults(w io.Writer, results []orgResult) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\tERROR\t%s\n", security.MaskKey(r.SessionKey), security.Redact(r.Err.Error()))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", security.MaskKey(r.SessionKey), r.OrganizationID)
	}
	return failed
}
