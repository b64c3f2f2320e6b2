package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// DefaultIndexURL is the public package index queried when no other index is
// configured.
const DefaultIndexURL = "https://pypi.org"

// ErrNotFound is returned by an Index when a package has no releases at all.
var ErrNotFound = errors.New("package not found in index")

// Index lists the published releases of a package.
type Index interface {
	// Releases returns the known versions of the named package sorted in
	// ascending order. The name is normalized before lookup.
	Releases(ctx context.Context, name string) ([]Version, error)
}

// HTTPIndex queries a pypi.org style JSON API for package releases.
type HTTPIndex struct {
	base      string
	client    *http.Client
	userAgent string
}

// NewHTTPIndex creates an index client for a pypi.org style endpoint.
// An empty baseURL selects DefaultIndexURL.
func NewHTTPIndex(baseURL string) *HTTPIndex {
	if baseURL == "" {
		baseURL = DefaultIndexURL
	}
	return &HTTPIndex{
		base:      baseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "progen",
	}
}

// WithClient sets the HTTP client used for index requests.
func (x *HTTPIndex) WithClient(client *http.Client) *HTTPIndex {
	x.client = client
	return x
}

// WithUserAgent sets the User-Agent header sent with index requests.
func (x *HTTPIndex) WithUserAgent(ua string) *HTTPIndex {
	x.userAgent = ua
	return x
}

// Releases implements Index against GET {base}/pypi/{name}/json. Release keys
// that are not parseable versions are skipped, matching how installers treat
// legacy uploads.
func (x *HTTPIndex) Releases(ctx context.Context, name string) ([]Version, error) {
	name = NormalizeName(name)
	endpoint := fmt.Sprintf("%s/pypi/%s/json", x.base, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build index request for %q", name)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", x.userAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query index for %q", name)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.WithMessage(ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("index returned %s for %q", resp.Status, name)
	}

	var payload struct {
		Releases map[string]json.RawMessage `json:"releases"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&payload); err != nil {
		return nil, errors.Wrapf(err, "failed to decode index response for %q", name)
	}

	versions := make([]Version, 0, len(payload.Releases))
	for spelled := range payload.Releases {
		v, err := ParseVersion(spelled)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sortVersions(versions)
	return versions, nil
}

// FileIndex serves releases from a local snapshot, for offline checks.
//
// The snapshot is JSON of the form
//
//	{"packages": {"numpy": ["1.26.0", "1.26.1"], ...}}
type FileIndex struct {
	releases map[string][]Version
}

// LoadFileIndex reads an index snapshot from path.
func LoadFileIndex(path string) (*FileIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read index snapshot %s", path)
	}

	var payload struct {
		Packages map[string][]string `json:"packages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrapf(err, "failed to parse index snapshot %s", path)
	}

	idx := &FileIndex{releases: make(map[string][]Version, len(payload.Packages))}
	for name, spellings := range payload.Packages {
		versions := make([]Version, 0, len(spellings))
		for _, spelled := range spellings {
			v, err := ParseVersion(spelled)
			if err != nil {
				return nil, errors.WithMessagef(err, "index snapshot %s: package %q", path, name)
			}
			versions = append(versions, v)
		}
		sortVersions(versions)
		idx.releases[NormalizeName(name)] = versions
	}
	return idx, nil
}

// Releases implements Index from the loaded snapshot.
func (x *FileIndex) Releases(_ context.Context, name string) ([]Version, error) {
	versions, ok := x.releases[NormalizeName(name)]
	if !ok {
		return nil, errors.WithMessage(ErrNotFound, name)
	}
	return versions, nil
}

func sortVersions(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })
}
