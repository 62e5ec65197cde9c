package gharchive

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	perr "ghdiscover/internal/platform/errors"
)

// DirFetcher serves hours from a local mirror holding one .json.gz per hour.
// It never writes to the directory
type DirFetcher struct {
	dir string
}

// NewDirFetcher returns a read-only fetcher over dir
func NewDirFetcher(dir string) *DirFetcher { return &DirFetcher{dir: dir} }

// Open returns the file for hour
func (d *DirFetcher) Open(ctx context.Context, hour HourRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.dir, hour.FileName()))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, perr.NotFoundf("gharchive: %s not in %s", hour, d.dir)
	case err != nil:
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gharchive: open %s", hour)
	}
	return f, nil
}

// Hours lists the hours present in the mirror, oldest first
func (d *DirFetcher) Hours() ([]HourRef, error) {
	ents, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gharchive: read %s", d.dir)
	}
	var out []HourRef
	for _, e := range ents {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".json.gz") {
			continue
		}
		h, err := ParseHour(e.Name())
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
