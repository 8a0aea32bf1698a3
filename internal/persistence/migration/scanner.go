package migration

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Pattern matches {version}_{description}.sql, e.g. 001_initial_schema.sql.
var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Load reads every migration file in dir of fsys, sorted by version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory %s: %w", dir, err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, description, err := ParseFileName(entry.Name())
		if err != nil {
			return nil, &MigrationError{Name: entry.Name(), Operation: "validate filename", Err: err}
		}
		if existing, dup := seen[version]; dup {
			return nil, &MigrationError{Version: version, Name: entry.Name(), Operation: "check duplicates",
				Err: fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, existing, entry.Name())}
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, &MigrationError{Version: version, Name: entry.Name(), Operation: "read file", Err: err}
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			Name:        entry.Name(),
			SQL:         string(content),
			Checksum:    Checksum(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ParseFileName splits a migration file name into version and description.
func ParseFileName(name string) (int, string, error) {
	matches := fileNamePattern.FindStringSubmatch(name)
	if len(matches) != 3 {
		return 0, "", fmt.Errorf("%w: filename %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name)
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("%w: version in %q must be a positive number", ErrInvalidMigrationFile, name)
	}
	return version, strings.ReplaceAll(matches[2], "_", " "), nil
}

// Checksum returns the hex blake2b-256 digest of content.
func Checksum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Statements splits a migration into executable statements, dropping
// comment-only lines. Statements are separated by semicolons.
func Statements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}
