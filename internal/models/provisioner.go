package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"whisper-server/internal/domain"
)

const (
	downloadPollInterval = 500 * time.Millisecond
	repoInfoTimeout      = 10 * time.Second
	hubBaseURL           = "https://huggingface.co"
)

// sizeAllowedExtensions restricts the remote size estimate to model payload
// files, mirroring what the download actually fetches.
var sizeAllowedExtensions = []string{".bin", ".gguf", ".json", ".txt"}

// repoFile is one file listed in a model repository.
type repoFile struct {
	Name string `json:"rfilename"`
	Size int64  `json:"size"`
}

// Provisioner ensures a model is present in the local cache before
// inference, reporting download progress through job events.
type Provisioner struct {
	cacheDir     string
	pollInterval time.Duration

	fetchRepoFiles func(ctx context.Context, repoID string) ([]repoFile, error)
	download       func(ctx context.Context, url, tmpPath, destPath string) error
}

// NewProvisioner creates a provisioner caching models under cacheDir.
func NewProvisioner(cacheDir string) *Provisioner {
	return &Provisioner{
		cacheDir:       cacheDir,
		pollInterval:   downloadPollInterval,
		fetchRepoFiles: fetchRepoFilesFromHub,
		download:       downloadURLToFile,
	}
}

// IsCached reports whether the model is already present locally.
func (p *Provisioner) IsCached(model string) bool {
	_, err := p.ModelPath(model)
	return err == nil
}

// ModelPath returns the local file path for a cached model. For repository
// references without a known file name, the snapshot directory is scanned
// for model files.
func (p *Provisioner) ModelPath(model string) (string, error) {
	ref, err := resolveRef(model)
	if err != nil {
		return "", err
	}

	snapshotDir := filepath.Join(p.cacheDir, snapshotDirName(ref.repoID))
	if ref.fileName != "" {
		path := filepath.Join(snapshotDir, ref.fileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("model %s is not cached", model)
		}
		return path, nil
	}

	entries, err := os.ReadDir(snapshotDir)
	if err != nil {
		return "", fmt.Errorf("model %s is not cached", model)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("model %s is not cached", model)
	}

	sort.Strings(names)
	return filepath.Join(snapshotDir, names[0]), nil
}

// Ensure makes the model available locally, emitting model_downloading
// events while a download is in flight. Returns ok=false without error when
// the job was cancelled during the download.
func (p *Provisioner) Ensure(ctx context.Context, model string, emit func(domain.Event), cancelled func() bool) (string, bool, error) {
	if path, err := p.ModelPath(model); err == nil {
		return path, true, nil
	}

	ref, err := resolveRef(model)
	if err != nil {
		return "", false, err
	}

	fileName, sizeMB, totalBytes := p.resolveDownload(ctx, ref, model)
	if fileName == "" {
		return "", false, fmt.Errorf("cannot resolve a model file for %s", model)
	}

	snapshotDir := filepath.Join(p.cacheDir, snapshotDirName(ref.repoID))
	destPath := filepath.Join(snapshotDir, fileName)
	tmpPath := destPath + ".download"
	url := fmt.Sprintf("%s/%s/resolve/main/%s", hubBaseURL, ref.repoID, fileName)

	emit(domain.NewModelDownloadingEvent(model, 0, sizeMB))
	log.Info().Str("model", model).Str("url", url).Int("size_mb", sizeMB).Msg("downloading model")

	dlCtx, cancelDL := context.WithCancel(ctx)
	defer cancelDL()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.download(dlCtx, url, tmpPath, destPath)
	}()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	lastPercent := 0
	for {
		select {
		case err := <-errCh:
			if err != nil {
				return "", false, fmt.Errorf("download model %s: %w", model, err)
			}
			emit(domain.NewModelDownloadingEvent(model, 100, sizeMB))
			return destPath, true, nil

		case <-ticker.C:
			if cancelled() {
				log.Info().Str("model", model).Msg("model download cancelled")
				return "", false, nil
			}
			percent := diskProgressPercent(tmpPath, totalBytes)
			if percent > lastPercent {
				lastPercent = percent
				emit(domain.NewModelDownloadingEvent(model, percent, sizeMB))
			}

		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// EnsureLocal makes the model available without progress reporting. Used by
// the synchronous model-load endpoint.
func (p *Provisioner) EnsureLocal(ctx context.Context, model string) (string, error) {
	path, ok, err := p.Ensure(ctx, model, func(domain.Event) {}, func() bool { return false })
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("model download aborted")
	}
	return path, nil
}

// resolveDownload determines the file to fetch and the best size estimate:
// the authoritative repository listing when reachable, the nominal catalog
// size otherwise.
func (p *Provisioner) resolveDownload(ctx context.Context, ref modelRef, model string) (fileName string, sizeMB int, totalBytes int64) {
	fileName = ref.fileName
	sizeMB = NominalSizeMB(model)

	files, err := p.fetchRepoFiles(ctx, ref.repoID)
	if err != nil {
		log.Debug().Err(err).Str("repo", ref.repoID).Msg("repository size lookup failed, using nominal size")
		totalBytes = int64(sizeMB) * 1024 * 1024
		return fileName, sizeMB, totalBytes
	}

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if fileName == "" && (ext == ".bin" || ext == ".gguf") {
			fileName = f.Name
		}
		if f.Name == fileName && f.Size > 0 {
			totalBytes = f.Size
		}
	}
	if totalBytes == 0 {
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name))
			for _, allowed := range sizeAllowedExtensions {
				if ext == allowed {
					totalBytes += f.Size
					break
				}
			}
		}
	}
	if totalBytes > 0 {
		sizeMB = int(totalBytes / (1024 * 1024))
	} else {
		totalBytes = int64(sizeMB) * 1024 * 1024
	}
	return fileName, sizeMB, totalBytes
}

// diskProgressPercent estimates progress from the partial file size,
// capped at 99 until completion is confirmed.
func diskProgressPercent(tmpPath string, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0
	}

	percent := int(info.Size() * 100 / totalBytes)
	if percent > 99 {
		percent = 99
	}
	return percent
}

// fetchRepoFilesFromHub queries the hub API for the repository file listing.
func fetchRepoFilesFromHub(ctx context.Context, repoID string) ([]repoFile, error) {
	ctx, cancel := context.WithTimeout(ctx, repoInfoTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/models/%s", hubBaseURL, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build repository info request: %w", err)
	}
	req.Header.Set("User-Agent", "whisper-server")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request repository info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repository info request returned %s", resp.Status)
	}

	var payload struct {
		Siblings []repoFile `json:"siblings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode repository info: %w", err)
	}
	return payload.Siblings, nil
}

// downloadURLToFile streams the URL into a temporary file and moves it into
// place once complete.
func downloadURLToFile(ctx context.Context, sourceURL, tmpPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "whisper-server")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}

	return nil
}

// NewProvisionerForTests creates a provisioner with injectable collaborators.
func NewProvisionerForTests(
	cacheDir string,
	pollInterval time.Duration,
	fetchRepoFiles func(ctx context.Context, repoID string) ([]repoFile, error),
	download func(ctx context.Context, url, tmpPath, destPath string) error,
) *Provisioner {
	return &Provisioner{
		cacheDir:       cacheDir,
		pollInterval:   pollInterval,
		fetchRepoFiles: fetchRepoFiles,
		download:       download,
	}
}
