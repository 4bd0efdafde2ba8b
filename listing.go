package ftpsession

import (
	"slices"
	"strconv"
	"strings"
)

// RemoteEntry is one parsed line of a UNIX "ls -l" style listing.
type RemoteEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"is_directory"`

	// Size is 0 both for empty files and when the size column did not parse
	// as an unsigned integer; the two cases cannot be told apart.
	Size uint64 `json:"size"`

	// Permissions is the first column, e.g. "drwxr-xr-x".
	Permissions string `json:"permissions"`

	// Modified is the three date columns joined by single spaces, e.g.
	// "Jan 02 15:04" or "Mar 7 2021". It is not interpreted.
	Modified string `json:"modified"`
}

// ParseListingLine parses one LIST line of the form
//
//	drwxr-xr-x 1 owner group 4096 Jan 02 15:04 some name
//
// It returns false for lines with fewer than nine fields (such as the
// "total" header) and for the "." and ".." entries. Other listing dialects
// (DOS, EPLF, MLSD) are not recognized.
func ParseListingLine(line string) (RemoteEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return RemoteEntry{}, false
	}

	name := strings.Join(fields[8:], " ")
	if name == "." || name == ".." {
		return RemoteEntry{}, false
	}

	size, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		size = 0
	}

	return RemoteEntry{
		Name:        name,
		IsDirectory: strings.HasPrefix(fields[0], "d"),
		Size:        size,
		Permissions: fields[0],
		Modified:    strings.Join(fields[5:8], " "),
	}, true
}

// parseListing maps every line through ParseListingLine, keeping server
// order and silently dropping lines that do not parse.
func parseListing(lines []string) []RemoteEntry {
	entries := make([]RemoteEntry, 0, len(lines))
	for _, line := range lines {
		if e, ok := ParseListingLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// SortEntries orders entries directories first, then by name ignoring case.
func SortEntries(entries []RemoteEntry) {
	slices.SortStableFunc(entries, func(a, b RemoteEntry) int {
		if a.IsDirectory != b.IsDirectory {
			if a.IsDirectory {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}
