// Package hub is a client for a progen content store: a plain HTTP service
// that groups files into named datasets. The store serves a JSON listing per
// dataset and raw file content, and accepts uploads with PUT:
//
//	GET {endpoint}/api/v1/datasets/{name}         file listing
//	GET {endpoint}/datasets/{name}/{file}         file content
//	PUT {endpoint}/datasets/{name}/{file}         upload
//
// Downloads run in parallel, write through a tmp file renamed into place,
// coordinate across processes with a lock file, and verify content against
// the listing's sha256. Files already present with the right checksum are
// not fetched again.
package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// DefaultMaxParallel bounds simultaneous downloads per client.
const DefaultMaxParallel = 4

// ErrNotFound reports a dataset the store does not have.
var ErrNotFound = errors.New("dataset not found in hub")

// FileInfo is one entry of a dataset listing.
type FileInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Dataset is the hub's listing for one named dataset.
type Dataset struct {
	Name  string      `json:"name"`
	Files []*FileInfo `json:"files"`
}

// TotalSize sums the sizes of the listed files.
func (d *Dataset) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}

// ProgressFn receives byte counts as a transfer advances. It is called from
// several goroutines at once and must be safe for that.
type ProgressFn func(file string, n int64)

// Client talks to one hub endpoint.
type Client struct {
	endpoint  string
	authToken string
	client    *http.Client
	sem       *semaphore
}

// New returns a Client for the store at endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
		sem:      newSemaphore(DefaultMaxParallel),
	}
}

// WithAuthToken sets a bearer token sent with every request.
func (c *Client) WithAuthToken(token string) *Client {
	c.authToken = token
	return c
}

// WithClient replaces the underlying HTTP client.
func (c *Client) WithClient(client *http.Client) *Client {
	c.client = client
	return c
}

// WithMaxParallel bounds simultaneous transfers. Zero or below means no
// limit.
func (c *Client) WithMaxParallel(n int) *Client {
	c.sem.resize(n)
	return c
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s request for %s", method, url)
	}
	req.Header.Set("User-Agent", "progen")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

func (c *Client) listingURL(dataset string) string {
	return c.endpoint + "/api/v1/datasets/" + url.PathEscape(dataset)
}

func (c *Client) fileURL(dataset, file string) string {
	parts := strings.Split(file, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.endpoint + "/datasets/" + url.PathEscape(dataset) + "/" + strings.Join(parts, "/")
}

// Dataset fetches the listing for a named dataset.
func (c *Client) Dataset(ctx context.Context, name string) (*Dataset, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.listingURL(name), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query hub for dataset %q", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.WithMessage(ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("hub returned %d for dataset %q: %s", resp.StatusCode, name, msg)
	}

	ds := &Dataset{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(ds); err != nil {
		return nil, errors.Wrapf(err, "failed to decode listing for dataset %q", name)
	}
	if ds.Name == "" {
		ds.Name = name
	}
	for _, f := range ds.Files {
		if f.Name == "" || path.IsAbs(f.Name) || strings.Contains(f.Name, "..") {
			return nil, errors.Errorf("dataset %q lists illegal file name %q", name, f.Name)
		}
	}
	return ds, nil
}

// Pull downloads every file of the dataset into dir and returns the listing.
// Files already present with a matching checksum are skipped, with their full
// size still reported to progress.
func (c *Client) Pull(ctx context.Context, name, dir string, progress ProgressFn) (*Dataset, error) {
	ds, err := c.Dataset(ctx, name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, fi := range ds.Files {
		wg.Add(1)
		go func(fi *FileInfo) {
			defer wg.Done()
			c.sem.acquire()
			defer c.sem.release()
			if ctx.Err() != nil {
				return
			}

			target := filepath.Join(dir, filepath.FromSlash(fi.Name))
			if err := c.downloadFile(ctx, name, fi, target, progress); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.WithMessagef(err, "failed to pull %q", fi.Name)
				}
				mu.Unlock()
				cancel()
			}
		}(fi)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return ds, nil
}

// downloadFile fetches one listed file to target unless a verified copy is
// already there.
func (c *Client) downloadFile(ctx context.Context, dataset string, fi *FileInfo, target string, progress ProgressFn) error {
	ok, err := verifyExisting(target, fi.SHA256)
	if err != nil {
		return err
	}
	if ok {
		if progress != nil {
			progress(fi.Name, fi.Size)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", target)
	}

	lockPath := target + ".lock"
	var mainErr error
	errLock := withFileLock(ctx, lockPath, func() {
		// another process may have finished while we waited for the lock
		if ok, _ := verifyExisting(target, fi.SHA256); ok {
			if progress != nil {
				progress(fi.Name, fi.Size)
			}
			return
		}
		mainErr = c.fetch(ctx, dataset, fi, target, progress)
		if mainErr == nil {
			os.Remove(lockPath)
		}
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q", lockPath)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, dataset string, fi *FileInfo, target string, progress ProgressFn) error {
	tmpPath := target + ".downloading"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file %q", tmpPath)
	}
	var tmpClosed bool
	defer func() {
		if !tmpClosed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(dataset, fi.Name), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to download %q", fi.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("hub returned %d for file %q of dataset %q", resp.StatusCode, fi.Name, dataset)
	}

	hash := sha256.New()
	var r io.Reader = io.TeeReader(resp.Body, hash)
	if progress != nil {
		r = &progressReader{r: r, file: fi.Name, fn: progress}
	}
	if _, err := io.Copy(tmp, r); err != nil {
		return errors.Wrapf(err, "failed to download %q", fi.Name)
	}

	if sum := hex.EncodeToString(hash.Sum(nil)); fi.SHA256 != "" && sum != fi.SHA256 {
		return errors.Errorf("checksum mismatch for %q: got %s, want %s", fi.Name, sum, fi.SHA256)
	}

	tmpClosed = true
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return errors.Wrapf(err, "failed to move %q into place", tmpPath)
	}
	return nil
}

// Push uploads the regular files under dir as the named dataset and returns
// the listing it sent, files in sorted order.
func (c *Client) Push(ctx context.Context, name, dir string, progress ProgressFn) (*Dataset, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %q", dir)
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no files to push under %q", dir)
	}
	sort.Strings(files)

	ds := &Dataset{Name: name}
	for _, rel := range files {
		fi, err := c.uploadFile(ctx, name, dir, rel, progress)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to push %q", rel)
		}
		ds.Files = append(ds.Files, fi)
	}
	return ds, nil
}

func (c *Client) uploadFile(ctx context.Context, dataset, dir, rel string, progress ProgressFn) (*FileInfo, error) {
	local := filepath.Join(dir, filepath.FromSlash(rel))

	sum, size, err := fileSHA256(local)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", local)
	}
	defer f.Close()

	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, file: rel, fn: progress}
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.fileURL(dataset, rel), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("X-Checksum-Sha256", sum)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upload %q", rel)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("hub returned %d for upload of %q: %s", resp.StatusCode, rel, msg)
	}

	return &FileInfo{Name: rel, Size: size, SHA256: sum}, nil
}

// verifyExisting reports whether target exists with the wanted checksum. A
// missing file is not an error; an empty want matches any existing file.
func verifyExisting(target, want string) (bool, error) {
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat %q", target)
	}
	if want == "" {
		return true, nil
	}
	sum, _, err := fileSHA256(target)
	if err != nil {
		return false, err
	}
	return sum == want, nil
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to open %q", path)
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to hash %q", path)
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

// withFileLock holds an exclusive flock on lockPath around fn, polling if
// another process holds it.
func withFileLock(ctx context.Context, lockPath string, fn func()) error {
	f, err := os.OpenFile(lockPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open lock file %q", lockPath)
	}
	defer f.Close()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EAGAIN) {
			return errors.Wrapf(err, "failed to lock %q", lockPath)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	fn()
	return nil
}

type progressReader struct {
	r    io.Reader
	file string
	fn   ProgressFn
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(p.file, int64(n))
	}
	return n, err
}
