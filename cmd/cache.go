package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hogarfamiliar/catastro-cli/internal/cache"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
	"github.com/hogarfamiliar/catastro-cli/internal/refcat"
)

var cacheShowXML bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the lookup cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <referencia>",
	Short: "Show the cached entry for a reference and whether it is still fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		c := cache.New(st, cache.Options{Enabled: true, TTL: cfg.Cache.TTL()})
		return runCacheShow(ctx, cmd.OutOrStdout(), c, args[0], cacheShowXML)
	},
}

// cacheReport is the JSON printed by cache show.
type cacheReport struct {
	Key         string           `json:"referencia_catastral"`
	Fresh       bool             `json:"fresh"`
	Age         string           `json:"age"`
	TTL         string           `json:"ttl"`
	FirstSeen   time.Time        `json:"fecha_consulta"`
	LastUpdated time.Time        `json:"fecha_actualizacion"`
	Latitude    *float64         `json:"lat"`
	Longitude   *float64         `json:"lon"`
	Records     []model.Property `json:"data"`
	RawXML      string           `json:"datos_xml,omitempty"`
}

func runCacheShow(ctx context.Context, out io.Writer, c *cache.Store, raw string, withXML bool) error {
	key, err := refcat.Sanitize(raw)
	if err != nil {
		return eris.Wrap(err, "invalid cadastral reference")
	}

	entry, err := c.Inspect(ctx, key)
	if err != nil {
		return eris.Wrap(err, "read cache entry")
	}
	if entry == nil {
		return eris.Errorf("no cache entry for %s", key)
	}

	report := cacheReport{
		Key:         entry.Key,
		Fresh:       c.Fresh(entry),
		Age:         time.Since(entry.LastUpdated).Truncate(time.Second).String(),
		TTL:         c.TTL().String(),
		FirstSeen:   entry.FirstSeen,
		LastUpdated: entry.LastUpdated,
		Latitude:    entry.Latitude,
		Longitude:   entry.Longitude,
	}
	if err := json.Unmarshal(entry.Records, &report.Records); err != nil {
		return eris.Wrap(err, fmt.Sprintf("decode cached records for %s", key))
	}
	if withXML {
		report.RawXML = entry.RawXML
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func init() {
	cacheShowCmd.Flags().BoolVar(&cacheShowXML, "xml", false, "include the raw upstream payload")
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
