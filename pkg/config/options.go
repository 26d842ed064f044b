package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/injector/injector/pkg/fsutil"
)

// Options file keys
const (
	OptionHeader  = "HEADER"
	OptionMsgCat  = "MSGCAT"
	OptionBuild32 = "BUILD_32"
	OptionBuild64 = "BUILD_64"
)

// Options holds the per-tree build and post-processing options
type Options struct {
	CopyHeaderFiles     bool
	CopyMessageCatalogs bool
	Command32           string
	Command64           string
	// Unknown keeps keys this version does not understand
	Unknown map[string]string
}

// CommandFor returns the build command for a word size
func (o *Options) CommandFor(bits int) string {
	if bits == 32 {
		return o.Command32
	}
	return o.Command64
}

// ReadOptions reads an options file
func ReadOptions(path string) (*Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open options file: %w", err)
	}
	defer f.Close()

	opts, err := ParseOptions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// ParseOptions parses `key#value` lines. The value is everything after the
// first '#'. Blank lines and lines with an empty key are skipped.
func ParseOptions(r io.Reader) (*Options, error) {
	opts := &Options{Unknown: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "#")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '#' separator", lineNo)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case OptionHeader:
			b, err := parseBool(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
			opts.CopyHeaderFiles = b
		case OptionMsgCat:
			b, err := parseBool(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
			opts.CopyMessageCatalogs = b
		case OptionBuild32:
			opts.Command32 = value
		case OptionBuild64:
			opts.Command64 = value
		default:
			opts.Unknown[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return opts, nil
}

// WriteOptions writes the canonical form of opts
func WriteOptions(path string, opts *Options) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s#%t\n", OptionHeader, opts.CopyHeaderFiles)
	fmt.Fprintf(&buf, "%s#%t\n", OptionMsgCat, opts.CopyMessageCatalogs)
	fmt.Fprintf(&buf, "%s#%s\n", OptionBuild32, opts.Command32)
	fmt.Fprintf(&buf, "%s#%s\n", OptionBuild64, opts.Command64)

	keys := make([]string, 0, len(opts.Unknown))
	for k := range opts.Unknown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s#%s\n", k, opts.Unknown[k])
	}

	if err := fsutil.NewOS().WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write options file: %w", err)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
