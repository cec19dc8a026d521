package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarfamiliar/catastro-cli/internal/catastro"
	"github.com/hogarfamiliar/catastro-cli/internal/config"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

const dnprcXML = `<?xml version="1.0" encoding="UTF-8"?>
<consulta_dnp xmlns="http://www.catastro.meh.es/">
  <control><cudnp>1</cudnp></control>
  <bico>
    <bi>
      <idbi><rc><pc1>0395809</pc1><pc2>VK6709N</pc2><car>0035</car><cc1>K</cc1><cc2>W</cc2></rc></idbi>
      <ldt>AV BENIDORM, 11 Es:1 Pl:08 Pt:C 03540 ALACANT (ALICANTE)</ldt>
      <debi><luso>Vivienda</luso><sfc>120</sfc><ant>1980</ant></debi>
    </bi>
  </bico>
</consulta_dnp>`

const coordXML = `<consulta_coordenadas xmlns="http://www.catastro.meh.es/">
  <coordenadas><coord>
    <pc><pc1>0395809</pc1><pc2>VK6709N</pc2></pc>
    <geo><xcen>-0.4810000</xcen><ycen>38.3450000</ycen><srs>EPSG:4326</srs></geo>
  </coord></coordenadas>
</consulta_coordenadas>`

const testRef = "0395809VK6709N0035KW"

type stubAcquirer struct {
	acq *catastro.Acquisition
	err error
}

func (s stubAcquirer) Acquire(context.Context, string) (*catastro.Acquisition, error) {
	return s.acq, s.err
}

func TestRunLookup_Success(t *testing.T) {
	var out bytes.Buffer
	svc := stubAcquirer{acq: &catastro.Acquisition{
		Reference: testRef,
		Source:    model.SourceCache,
		Records:   []model.Property{{Identifier: testRef, Address: "CL ESPAÑA 1"}},
	}}

	require.NoError(t, runLookup(context.Background(), &out, svc, testRef, true))

	assert.Contains(t, out.String(), "ESPAÑA")
	assert.Contains(t, out.String(), "\n  \"success\": true")

	var res model.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, model.SourceCache, res.Source)
}

func TestRunLookup_FailurePrintsEnvelopeAndErrors(t *testing.T) {
	var out bytes.Buffer
	svc := stubAcquirer{err: &catastro.Error{Kind: catastro.KindNoData, Message: "no property found for this reference"}}

	err := runLookup(context.Background(), &out, svc, testRef, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_data")

	assert.Equal(t, 1, strings.Count(out.String(), "\n"), "compact output is one line")
	var res model.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "no property found for this reference", res.Error)
	assert.NotNil(t, res.Data)
}

// upstream fakes the three Catastro endpoints on one test server.
func upstream(t *testing.T, restStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/rest":
			if restStatus != http.StatusOK {
				w.WriteHeader(restStatus)
				return
			}
			_, _ = w.Write([]byte(dnprcXML))
		case "/legacy":
			_, _ = w.Write([]byte(dnprcXML))
		case "/coor":
			_, _ = w.Write([]byte(coordXML))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Catastro.RESTURL = baseURL + "/rest?RC=%s"
	c.Catastro.LegacyURL = baseURL + "/legacy?ReferenciaCatastral=%s"
	c.Catastro.CoordinatesURL = baseURL + "/coor?SRS=EPSG:4326&RC=%s"
	c.HTTP.UserAgent = "catastro-cli-test"
	c.HTTP.ConnectTimeoutSecs = 2
	c.HTTP.TimeoutSecs = 5
	c.HTTP.MaxRetries = 0
	c.HTTP.InitialBackoffMs = 1
	c.HTTP.VerifySSL = true
	c.Cache.Enabled = true
	c.Cache.TTLSeconds = 3600
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "catastro.db")
	require.NoError(t, c.Validate("lookup"))
	return c
}

func TestInitLookup_EndToEndWithCache(t *testing.T) {
	srv, calls := upstream(t, http.StatusOK)
	c := testConfig(t, srv.URL)
	ctx := context.Background()

	env, err := initLookup(ctx, c, nil)
	require.NoError(t, err)
	defer env.Close()
	require.NotNil(t, env.Store)
	assert.True(t, env.Cache.Enabled())

	var out bytes.Buffer
	require.NoError(t, runLookup(ctx, &out, env.Service, "0395809 vk6709n 0035kw", false))

	var res model.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, model.SourceAPI, res.Source)
	require.Len(t, res.Data, 1)
	assert.Equal(t, testRef, res.Data[0].Identifier)
	require.NotNil(t, res.Data[0].Latitude)
	assert.InDelta(t, 38.345, *res.Data[0].Latitude, 1e-9)
	assert.InDelta(t, -0.481, *res.Data[0].Longitude, 1e-9)
	assert.Equal(t, int32(2), calls.Load(), "rest plus coordinates")

	out.Reset()
	require.NoError(t, runLookup(ctx, &out, env.Service, testRef, false))
	res = model.Result{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, model.SourceCache, res.Source)
	assert.Equal(t, int32(2), calls.Load(), "second lookup served from cache")
}

func TestInitLookup_FallsBackToLegacy(t *testing.T) {
	srv, calls := upstream(t, http.StatusInternalServerError)
	c := testConfig(t, srv.URL)
	c.Cache.Enabled = false

	env, err := initLookup(context.Background(), c, nil)
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Store)
	assert.False(t, env.Cache.Enabled())

	acq, err := env.Service.Acquire(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAPI, acq.Source)
	assert.Equal(t, int32(3), calls.Load(), "rest, legacy, coordinates")
}

func TestInitLookup_UnusableStoreDisablesCache(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK)
	c := testConfig(t, srv.URL)
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "missing", "dir", "catastro.db")

	env, err := initLookup(context.Background(), c, nil)
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Store)

	acq, err := env.Service.Acquire(context.Background(), testRef)
	require.NoError(t, err)
	assert.Len(t, acq.Records, 1)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNewFetcher_FromConfig(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK)
	c := testConfig(t, srv.URL)

	resp, err := newFetcher(c).Get(context.Background(), srv.URL+"/legacy")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Contains(t, string(resp.Body), "consulta_dnp")
}
