package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"tabprep/internal/frame"
)

// maxMemberSize bounds how much of one archive member is read.
const maxMemberSize = 1 << 30

// loadZip loads the first member with a supported extension, in archive
// order. Nested archives and directories are skipped.
func loadZip(ctx context.Context, data []byte) (*frame.Table, Report, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, Report{Format: "zip"}, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if ext == ".zip" || !supported(ext) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, Report{Format: "zip"}, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, Report{Format: "zip"}, fmt.Errorf("open member %s: %w", f.Name, err)
		}
		member, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
		_ = rc.Close()
		if err != nil {
			return nil, Report{Format: "zip"}, fmt.Errorf("read member %s: %w", f.Name, err)
		}

		t, rep, err := loadBytes(ctx, ext, member)
		rep.Member = f.Name
		if err != nil {
			return nil, rep, fmt.Errorf("member %s: %w", f.Name, err)
		}
		return t, rep, nil
	}
	return nil, Report{Format: "zip"}, ErrNoTable
}
