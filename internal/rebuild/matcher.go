package rebuild

import (
	"path"
	"strings"

	"github.com/mwantia/lakesync/pkg/db/models"
)

// DirectoryFilter selects the CSV files of a source.
type DirectoryFilter struct {
	Directory      string
	IncludeSubdirs bool
}

func FilterOf(source *models.Source) DirectoryFilter {
	return DirectoryFilter{
		Directory:      source.DirectoryFilter,
		IncludeSubdirs: source.IncludeSubdirs,
	}
}

// segments returns the directory split into path segments. An empty
// directory or "*" means the bucket root and yields no segments.
func (f DirectoryFilter) segments() []string {
	dir := strings.Trim(f.Directory, "/")
	if dir == "" || dir == "*" {
		return nil
	}
	return strings.Split(dir, "/")
}

// MatchFiles returns the files selected by filter, keeping their order.
func MatchFiles(files []models.File, filter DirectoryFilter) []models.File {
	var matched []models.File
	for _, file := range files {
		if MatchesKey(file.Key, filter) {
			matched = append(matched, file)
		}
	}
	return matched
}

// MatchesKey reports whether key is a visible CSV file below the filter
// directory. Without IncludeSubdirs the file has to sit directly inside it.
//
// Directory segments are path.Match patterns, so "*", "?" and "[...]" are
// wildcards. A directory whose name contains one of them literally has to
// escape it with a backslash, e.g. `data\[1\]` for "data[1]". Segments that
// are not valid patterns, such as an unclosed "[", are compared literally.
func MatchesKey(key string, filter DirectoryFilter) bool {
	if !strings.EqualFold(path.Ext(key), ".csv") || models.IsHiddenKey(key) {
		return false
	}

	dir := filter.segments()
	parts := strings.Split(key, "/")
	if len(parts) <= len(dir) {
		return false
	}

	for i, pattern := range dir {
		if !matchSegment(pattern, parts[i]) {
			return false
		}
	}

	if !filter.IncludeSubdirs && len(parts) != len(dir)+1 {
		return false
	}
	return true
}

func matchSegment(pattern, segment string) bool {
	if !strings.ContainsAny(pattern, `*?[\`) {
		return pattern == segment
	}
	ok, err := path.Match(pattern, segment)
	if err != nil {
		return pattern == segment
	}
	return ok
}

// MaxPathLevel is the deepest path level among files, 0 for none.
func MaxPathLevel(files []models.File) int {
	level := 0
	for i := range files {
		if l := files[i].PathLevel(); l > level {
			level = l
		}
	}
	return level
}
