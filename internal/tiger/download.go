// Package tiger reads Census TIGER/Line shapefiles as a layer source and
// encodes geometries for PostGIS.
package tiger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/fetcher"
)

// BaseURL is the Census TIGER/Line download root.
const BaseURL = "https://www2.census.gov/geo/tiger"

// Doer sends an HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TractURL returns the census-tract shapefile bundle URL for a state FIPS
// code and vintage, e.g. TractURL(BaseURL, 2023, "04").
func TractURL(base string, year int, statefp string) string {
	return fmt.Sprintf("%s/TIGER%d/TRACT/tl_%d_%s_tract.zip",
		strings.TrimRight(base, "/"), year, year, statefp)
}

// Download saves the bundle at url under destDir and extracts it, returning
// the .shp path. A bundle already on disk is not fetched again; the archive
// only appears under its final name once fully written.
func Download(ctx context.Context, client Doer, url, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}
	bundle := path.Base(url)
	archive := filepath.Join(destDir, bundle)
	log := zap.L().With(zap.String("component", "tiger.download"), zap.String("bundle", bundle))

	if info, err := os.Stat(archive); err == nil && info.Size() > 0 {
		log.Debug("using cached bundle", zap.String("path", archive))
	} else {
		n, err := save(ctx, client, url, archive)
		if err != nil {
			return "", eris.Wrapf(err, "tiger: download %s", bundle)
		}
		log.Info("bundle downloaded", zap.String("url", url), zap.Int64("bytes", n))
	}

	shp, err := fetcher.ExtractShapefile(archive, filepath.Join(destDir, strings.TrimSuffix(bundle, ".zip")))
	if err != nil {
		return "", eris.Wrapf(err, "tiger: extract %s", bundle)
	}
	return shp, nil
}

// save streams the response body into a temp file beside dest and renames it
// into place.
func save(ctx context.Context, client Doer, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, eris.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("census server returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "create temp file")
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, eris.Wrap(err, "write bundle")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, eris.Wrap(err, "move bundle into place")
	}
	return n, nil
}
