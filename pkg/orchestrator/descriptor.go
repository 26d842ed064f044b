package orchestrator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/injector/injector/pkg/types"
)

// DescriptorHeader is the first line of every command descriptor
const DescriptorHeader = "# injector-descriptor v1"

const (
	descriptorFields = 6
	emptyField       = "-"
)

// FormatDescriptor renders the command descriptor handed to the runner:
// the header line, then per platform the tab-separated fields
// platform, command, tech-level tag, log path, status path, reserved.
func FormatDescriptor(cmds []*types.BuildCommand) []byte {
	var buf bytes.Buffer
	buf.WriteString(DescriptorHeader)
	buf.WriteByte('\n')
	for _, c := range cmds {
		fields := []string{c.Platform, c.Command, orDash(c.TechLevel), c.LogFile, c.StatusFile, emptyField}
		buf.WriteString(strings.Join(fields, "\t"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseDescriptor reads a descriptor back. The header version and field
// count are checked.
func ParseDescriptor(r io.Reader) ([]types.BuildCommand, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty descriptor")
	}
	if header := strings.TrimSpace(scanner.Text()); header != DescriptorHeader {
		return nil, fmt.Errorf("unsupported descriptor header %q", header)
	}

	var cmds []types.BuildCommand
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != descriptorFields {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", lineNo, descriptorFields, len(fields))
		}
		tag := fields[2]
		if tag == emptyField {
			tag = ""
		}
		cmds = append(cmds, types.BuildCommand{
			Platform:   fields[0],
			Command:    fields[1],
			TechLevel:  tag,
			LogFile:    fields[3],
			StatusFile: fields[4],
		})
	}
	return cmds, scanner.Err()
}

func orDash(s string) string {
	if s == "" {
		return emptyField
	}
	return s
}
