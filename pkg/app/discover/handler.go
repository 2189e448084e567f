package discover

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-apfs/internal/fsapi"
	apfstypes "github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/deploymenttheory/go-apfs/pkg/app"
)

// Handle processes a discovery request against a real mounted container,
// walking the resolved volume's directory tree and filtering entries
// against req's search criteria.
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx.Log(fmt.Sprintf("Starting file discovery in: %s", req.ContainerPath))
	ctx.Progress("Opening container...", 5)

	logSearchCriteria(ctx, req)

	oc, err := app.OpenTarget(req.ContainerPath, req.Target, nil)
	if err != nil {
		return nil, err
	}
	defer oc.Close()

	f, err := newFilter(req)
	if err != nil {
		return nil, err
	}

	ctx.Progress("Scanning filesystem...", 25)

	var files []FileResult
	walkErr := app.Walk(oc.Root, "/", true, func(v app.VisitedFile) error {
		if len(files) >= req.MaxResults {
			return errStopWalk
		}
		if v.Info.IsDir {
			return nil
		}
		if f.matches(v) {
			files = append(files, toFileResult(v, oc.VolumeInfo))
		}
		return nil
	})
	if walkErr != nil && walkErr != errStopWalk {
		return nil, app.NewError(app.ErrCodeContainerAccess, "walking volume", walkErr)
	}

	ctx.Progress("Processing results...", 90)

	response := &Response{
		Files:      files,
		TotalFound: len(files),
		VolumeInfo: VolumeInfo{
			ID:            uint64(oc.VolumeInfo.Index),
			Name:          oc.VolumeInfo.Name,
			UUID:          formatUUID(oc.VolumeInfo.UUID),
			Encrypted:     oc.VolumeInfo.Encrypted,
			CaseSensitive: !oc.VolumeInfo.CaseInsensitive,
		},
		SearchTime:  time.Since(startTime),
		SearchQuery: createSearchQuery(req),
	}

	if len(response.Files) >= req.MaxResults {
		response.Truncated = true
	}

	ctx.Progress("Complete", 100)
	ctx.Log(fmt.Sprintf("Discovery completed: found %d files in %v", response.TotalFound, response.SearchTime))

	return response, nil
}

var errStopWalk = fmt.Errorf("discover: result limit reached")

// filter holds req's search criteria compiled into directly-testable form.
type filter struct {
	req        *Request
	nameRegex  *regexp.Regexp
	minSize    int64
	maxSize    int64
	afterTime  time.Time
	beforeTime time.Time
}

func newFilter(req *Request) (*filter, error) {
	f := &filter{req: req}
	if req.NameRegex != "" {
		re, err := regexp.Compile(req.NameRegex)
		if err != nil {
			return nil, app.NewError(app.ErrCodeInvalidInput, "invalid regex pattern", err)
		}
		f.nameRegex = re
	}
	if req.MinSize != "" {
		v, err := ParseSize(req.MinSize)
		if err != nil {
			return nil, app.NewError(app.ErrCodeInvalidInput, "invalid min-size", err)
		}
		f.minSize = v
	}
	if req.MaxSize != "" {
		v, err := ParseSize(req.MaxSize)
		if err != nil {
			return nil, app.NewError(app.ErrCodeInvalidInput, "invalid max-size", err)
		}
		f.maxSize = v
	}
	if req.ModifiedAfter != "" {
		t, _ := time.Parse("2006-01-02", req.ModifiedAfter)
		f.afterTime = t
	}
	if req.ModifiedBefore != "" {
		t, _ := time.Parse("2006-01-02", req.ModifiedBefore)
		f.beforeTime = t
	}
	return f, nil
}

func (f *filter) matches(v app.VisitedFile) bool {
	name := filepath.Base(v.Path)

	if len(f.req.Extensions) > 0 {
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		matched := false
		for _, e := range f.req.Extensions {
			if strings.EqualFold(e, ext) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.req.NamePattern != "" {
		pattern, candidate := f.req.NamePattern, name
		if !f.req.CaseSensitive {
			pattern = strings.ToLower(pattern)
			candidate = strings.ToLower(candidate)
		}
		if ok, _ := filepath.Match(pattern, candidate); !ok {
			return false
		}
	}
	if f.nameRegex != nil && !f.nameRegex.MatchString(name) {
		return false
	}

	size := int64(v.Info.Size)
	if f.minSize > 0 && size < f.minSize {
		return false
	}
	if f.maxSize > 0 && size > f.maxSize {
		return false
	}

	modTime := app.NanoTime(v.Info.ModTime)
	if !f.afterTime.IsZero() && modTime.Before(f.afterTime) {
		return false
	}
	if !f.beforeTime.IsZero() && modTime.After(f.beforeTime) {
		return false
	}

	if f.req.ContentSearch != "" {
		if !containsText(v.Ref, f.req.ContentSearch) {
			return false
		}
	}

	return true
}

// containsText reads up to a few megabytes of the file's content looking
// for needle, case-insensitively. Reads past that cap are skipped rather
// than pulled in full, since content search is a best-effort filter, not
// a guarantee of exhaustive matching on huge files.
func containsText(ref *fsapi.InodeRef, needle string) bool {
	const readCap = 4 << 20
	buf := make([]byte, readCap)
	n, err := ref.Read(0, buf)
	if err != nil && n == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(string(buf[:n])), strings.ToLower(needle))
}

func formatUUID(u apfstypes.UUID) string {
	return uuid.UUID(u).String()
}

func toFileResult(v app.VisitedFile, vi fsapi.VolumeInfo) FileResult {
	info := v.Info
	name := filepath.Base(v.Path)
	return FileResult{
		Path:        v.Path,
		Name:        name,
		Size:        int64(info.Size),
		Modified:    app.NanoTime(info.ModTime),
		Created:     app.NanoTime(info.CreateTime),
		Type:        entryType(info),
		VolumeID:    uint64(vi.Index),
		InodeID:     info.InodeID,
		Permissions: app.FormatMode(info.Mode),
		Owner:       fmt.Sprintf("%d", info.UID),
		Group:       fmt.Sprintf("%d", info.GID),
		Extension:   strings.TrimPrefix(filepath.Ext(name), "."),
		Compressed:  info.Compressed,
		Encrypted:   vi.Encrypted,
	}
}

func entryType(info fsapi.FileInfo) string {
	switch {
	case info.IsDir:
		return "directory"
	case info.IsSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// logSearchCriteria logs the search criteria for verbose output
func logSearchCriteria(ctx *app.Context, req *Request) {
	if !ctx.Verbose {
		return
	}

	ctx.Log("Search criteria:")
	if !req.Target.IsEmpty() {
		ctx.Log("  " + req.Target.String())
	}
	if req.NamePattern != "" {
		ctx.Log(fmt.Sprintf("  Name pattern: %s", req.NamePattern))
	}
	if req.NameRegex != "" {
		ctx.Log(fmt.Sprintf("  Name regex: %s", req.NameRegex))
	}
	if len(req.Extensions) > 0 {
		ctx.Log(fmt.Sprintf("  Extensions: %s", strings.Join(req.Extensions, ", ")))
	}
	if req.ContentSearch != "" {
		ctx.Log(fmt.Sprintf("  Content search: \"%s\"", req.ContentSearch))
	}
	if req.MinSize != "" || req.MaxSize != "" {
		ctx.Log(fmt.Sprintf("  Size range: %s - %s", req.MinSize, req.MaxSize))
	}
	if req.IncludeDeleted {
		ctx.Log("  Including deleted files")
	}
}

// createSearchQuery creates a SearchQuery from the request
func createSearchQuery(req *Request) SearchQuery {
	return SearchQuery{
		NamePattern:    req.NamePattern,
		NameRegex:      req.NameRegex,
		Extensions:     req.Extensions,
		CaseSensitive:  req.CaseSensitive,
		MinSize:        req.MinSize,
		MaxSize:        req.MaxSize,
		ModifiedAfter:  req.ModifiedAfter,
		ModifiedBefore: req.ModifiedBefore,
		ContentSearch:  req.ContentSearch,
		IncludeDeleted: req.IncludeDeleted,
		MaxResults:     req.MaxResults,
	}
}
