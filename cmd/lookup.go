package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hogarfamiliar/catastro-cli/internal/catastro"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

var (
	lookupNoCache bool
	lookupCompact bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <referencia>",
	Short: "Look up one cadastral reference and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if lookupNoCache {
			c.Cache.Enabled = false
		}
		if err := c.Validate("lookup"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initLookup(ctx, &c, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		return runLookup(ctx, cmd.OutOrStdout(), env.Service, args[0], !lookupCompact)
	},
}

// acquirer is the part of the service the lookup command drives.
type acquirer interface {
	Acquire(ctx context.Context, raw string) (*catastro.Acquisition, error)
}

// runLookup prints the Result envelope and returns an error when the lookup
// failed, so the process exits non-zero.
func runLookup(ctx context.Context, out io.Writer, svc acquirer, raw string, indent bool) error {
	acq, err := svc.Acquire(ctx, raw)
	res := catastro.ToResult(acq, err)
	if werr := writeResult(out, res, indent); werr != nil {
		return eris.Wrap(werr, "write result")
	}
	if err != nil {
		return eris.Errorf("lookup failed (%s): %s", catastro.KindOf(err), res.Error)
	}
	return nil
}

func writeResult(out io.Writer, res model.Result, indent bool) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupNoCache, "no-cache", false, "bypass the cache for this lookup")
	lookupCmd.Flags().BoolVar(&lookupCompact, "compact", false, "print single-line JSON")
	rootCmd.AddCommand(lookupCmd)
}
