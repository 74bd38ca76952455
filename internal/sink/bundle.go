package sink

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LatestBundleName is the stable name the newest bundle is copied to.
const LatestBundleName = "archive.zip"

// BundleResult names the files written by Bundle.
type BundleResult struct {
	Dated  string `json:"dated"`
	Latest string `json:"latest"`
}

// Bundle zips the CSV at csvPath into dir as <stem>-updatedYYYYMMDD.zip and
// copies it to archive.zip alongside. The entry inside carries the dated
// name too.
func Bundle(csvPath, dir string, now time.Time) (BundleResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BundleResult{}, fmt.Errorf("create bundle dir: %w", err)
	}

	base := filepath.Base(csvPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	datedStem := fmt.Sprintf("%s-updated%s", stem, now.Format("20060102"))
	dated := filepath.Join(dir, datedStem+".zip")
	latest := filepath.Join(dir, LatestBundleName)

	if err := zipFile(csvPath, datedStem+filepath.Ext(base), dated); err != nil {
		return BundleResult{}, err
	}
	if err := copyFile(dated, latest); err != nil {
		return BundleResult{}, err
	}
	return BundleResult{Dated: dated, Latest: latest}, nil
}

func zipFile(src, entry, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header: %w", err)
	}
	hdr.Name = entry
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("zip copy: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip close: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
