// Package archive extracts record lines from bulk sales archives.
//
// A download directory holds zip containers. Each container may carry data
// members directly, or nested zip members that in turn carry data members.
// Exactly one level of nesting is honoured; anything deeper is ignored.
//
// Unpacking never fails because of a single bad file: missing archives,
// corrupt containers, oversized members, and members that are not valid
// UTF-8 are recorded as Problems and skipped at the smallest granularity.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Defaults used when an Unpacker field is left zero.
const (
	DefaultArchiveExt    = ".zip"
	DefaultDataExt       = ".dat"
	DefaultWorkers       = 4
	DefaultMaxMemberSize = 512 << 20
)

// ProblemKind classifies a recoverable archive error.
type ProblemKind string

const (
	ProblemMissing       ProblemKind = "missing"
	ProblemCorrupt       ProblemKind = "corrupt_archive"
	ProblemCorruptNested ProblemKind = "corrupt_nested_archive"
	ProblemUnreadable    ProblemKind = "unreadable_member"
	ProblemInvalidUTF8   ProblemKind = "invalid_utf8"
	ProblemTooLarge      ProblemKind = "member_too_large"
)

// Problem records one skipped archive or member.
type Problem struct {
	Archive string      `json:"archive"`
	Member  string      `json:"member,omitempty"`
	Kind    ProblemKind `json:"kind"`
	Err     string      `json:"error"`
}

// Result is the output of one unpack.
type Result struct {
	// Lines holds every line of every data member, in archive enumeration
	// order, then member order, then line order.
	Lines []string `json:"-"`

	Archives       int       `json:"archives"`
	DataMembers    int       `json:"data_members"`
	NestedArchives int       `json:"nested_archives"`
	Bytes          int64     `json:"bytes"`
	Ignored        []string  `json:"ignored,omitempty"`
	Problems       []Problem `json:"problems,omitempty"`
}

// merge appends other onto r. Used to concatenate per-archive partitions.
func (r *Result) merge(other *Result) {
	r.Lines = append(r.Lines, other.Lines...)
	r.Archives += other.Archives
	r.DataMembers += other.DataMembers
	r.NestedArchives += other.NestedArchives
	r.Bytes += other.Bytes
	r.Ignored = append(r.Ignored, other.Ignored...)
	r.Problems = append(r.Problems, other.Problems...)
}

// Unpacker walks archives and collects data member lines.
type Unpacker struct {
	ArchiveExt    string
	DataExt       string
	Workers       int
	MaxMemberSize int64

	// LenientUTF8 replaces invalid bytes with '?' instead of skipping the member.
	LenientUTF8 bool

	Logger *slog.Logger
}

func (u *Unpacker) withDefaults() Unpacker {
	c := *u
	if c.ArchiveExt == "" {
		c.ArchiveExt = DefaultArchiveExt
	}
	if c.DataExt == "" {
		c.DataExt = DefaultDataExt
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxMemberSize <= 0 {
		c.MaxMemberSize = DefaultMaxMemberSize
	}
	c.Logger = logging.OrDefault(c.Logger)
	return c
}

// Unpack extracts every archive in dir whose name ends with the archive
// extension. Only an unreadable directory or a cancelled context is an error.
func (u *Unpacker) Unpack(ctx context.Context, dir string) (*Result, error) {
	c := u.withDefaults()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), c.ArchiveExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	c.Logger.Info("unpacking archives", "dir", dir, "archives", len(paths), "workers", c.Workers)
	return c.UnpackFiles(ctx, paths)
}

// UnpackFiles extracts the given archives. Archives are processed in
// parallel and merged in the order given.
func (u *Unpacker) UnpackFiles(ctx context.Context, paths []string) (*Result, error) {
	c := u.withDefaults()

	parts := make([]*Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = c.unpackFile(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{}
	for _, part := range parts {
		out.merge(part)
	}
	return out, nil
}

// UnpackFile extracts a single archive.
func (u *Unpacker) UnpackFile(ctx context.Context, p string) (*Result, error) {
	return u.UnpackFiles(ctx, []string{p})
}

func (u *Unpacker) unpackFile(ctx context.Context, p string) *Result {
	res := &Result{}
	name := filepath.Base(p)

	zr, err := zip.OpenReader(p)
	if err != nil {
		kind := ProblemCorrupt
		if errors.Is(err, fs.ErrNotExist) {
			kind = ProblemMissing
		}
		u.problem(res, Problem{Archive: name, Kind: kind, Err: err.Error()})
		return res
	}
	defer zr.Close()

	res.Archives++
	u.Logger.Debug("extracting archive", "archive", name, "members", len(zr.File))

	for _, f := range zr.File {
		if ctx.Err() != nil {
			return res
		}
		if f.FileInfo().IsDir() {
			continue
		}

		switch {
		case hasExt(f.Name, u.DataExt):
			u.readData(res, name, f.Name, f)

		case hasExt(f.Name, u.ArchiveExt):
			u.readNested(ctx, res, name, f)

		default:
			u.ignore(res, name, f.Name)
		}
	}

	return res
}

// readNested opens a zip member as a container and extracts its data
// members. Zips found inside it are ignored.
func (u *Unpacker) readNested(ctx context.Context, res *Result, archive string, f *zip.File) {
	data, err := u.readMember(f)
	if err != nil {
		u.memberProblem(res, archive, f.Name, err)
		return
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		u.problem(res, Problem{Archive: archive, Member: f.Name, Kind: ProblemCorruptNested, Err: err.Error()})
		return
	}
	res.NestedArchives++

	for _, inner := range zr.File {
		if ctx.Err() != nil {
			return
		}
		if inner.FileInfo().IsDir() {
			continue
		}
		member := path.Join(f.Name, inner.Name)
		if hasExt(inner.Name, u.DataExt) {
			u.readData(res, archive, member, inner)
			continue
		}
		u.ignore(res, archive, member)
	}
}

// readData decodes one data member and appends its lines.
func (u *Unpacker) readData(res *Result, archive, member string, f *zip.File) {
	data, err := u.readMember(f)
	if err != nil {
		u.memberProblem(res, archive, member, err)
		return
	}
	res.Bytes += int64(len(data))

	if !utf8.Valid(data) {
		if !u.LenientUTF8 {
			u.problem(res, Problem{Archive: archive, Member: member, Kind: ProblemInvalidUTF8, Err: "member is not valid UTF-8"})
			return
		}
		u.Logger.Warn("replacing invalid UTF-8 bytes", "archive", archive, "member", member)
		data = sanitizeUTF8(data)
	}

	lines := splitLines(string(data))
	res.Lines = append(res.Lines, lines...)
	res.DataMembers++
	u.Logger.Debug("data member extracted", "archive", archive, "member", member, "lines", len(lines))
}

var errTooLarge = errors.New("member exceeds size limit")

// readMember decompresses a member, stripping a BOM and enforcing the size limit.
func (u *Unpacker) readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := &countingReader{reader: io.LimitReader(rc, u.MaxMemberSize+1)}
	data, err := io.ReadAll(newBOMReader(cr))
	if err != nil {
		return nil, err
	}
	if cr.bytesRead > u.MaxMemberSize {
		return nil, errTooLarge
	}
	return data, nil
}

func (u *Unpacker) memberProblem(res *Result, archive, member string, err error) {
	kind := ProblemUnreadable
	if errors.Is(err, errTooLarge) {
		kind = ProblemTooLarge
	}
	u.problem(res, Problem{Archive: archive, Member: member, Kind: kind, Err: err.Error()})
}

func (u *Unpacker) problem(res *Result, p Problem) {
	res.Problems = append(res.Problems, p)
	u.Logger.Warn("skipping archive content",
		"archive", p.Archive,
		"member", p.Member,
		"kind", p.Kind,
		"error", p.Err,
	)
}

func (u *Unpacker) ignore(res *Result, archive, member string) {
	res.Ignored = append(res.Ignored, archive+"!"+member)
	u.Logger.Info("ignored member", "archive", archive, "member", member)
}

// hasExt reports whether name ends with ext, ignoring case.
func hasExt(name, ext string) bool {
	return strings.EqualFold(path.Ext(name), ext)
}
