package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opsmenu/opsmenu/internal/model"
)

// Scripts may carry a metadata block in their leading comments:
//
//	# ScriptInfo
//	# Synopsis - Clean up stale sessions
//	# RequiredGroups - ops;sre
//	# AllowedUsers - alice
//	# Author - bob
//	# TimeoutSeconds - 120
//	# ScriptInfoEnd
//
// Keys without a value are treated as boolean flags and ignored here.
// A missing block makes the script public, with a recorded warning.

const metadataMaxLines = 200

var (
	keyValueRx = regexp.MustCompile(`^#\s*(\w+)(?:\s*-\s*(.+))?\s*$`)
	beginRx    = regexp.MustCompile(`^#\s*ScriptInfo\s*$`)
	endRx      = regexp.MustCompile(`^#\s*ScriptInfoEnd\s*$`)
)

func parseScript(path string, defaultTimeout time.Duration) (model.ScriptDescriptor, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ScriptDescriptor{}, nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	name := filepath.Base(path)
	desc := model.ScriptDescriptor{
		ID:       strings.TrimSuffix(name, filepath.Ext(name)),
		Synopsis: name,
		Path:     path,
		Timeout:  defaultTimeout,
	}

	var warnings []string
	scanner := bufio.NewScanner(f)
	inBlock := false
	sawBlock := false
	for lines := 0; scanner.Scan() && lines < metadataMaxLines; lines++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case beginRx.MatchString(line):
			inBlock = true
			sawBlock = true
			continue
		case endRx.MatchString(line):
			inBlock = false
			continue
		}
		if !inBlock {
			continue
		}

		m := keyValueRx.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		switch key {
		case "Synopsis":
			desc.Synopsis = value
		case "RequiredGroups", "RequiredAdGroups":
			desc.RequiredGroups = splitList(value)
		case "AllowedUsers":
			desc.AllowedUsers = splitList(value)
		case "Author":
			desc.Author = value
		case "TimeoutSeconds":
			secs, err := strconv.Atoi(value)
			if err != nil || secs <= 0 {
				warnings = append(warnings, fmt.Sprintf("%s: invalid TimeoutSeconds %q, using default", name, value))
				continue
			}
			desc.Timeout = time.Duration(secs) * time.Second
		}
	}
	if err := scanner.Err(); err != nil {
		return model.ScriptDescriptor{}, nil, err
	}
	if !sawBlock {
		warnings = append(warnings, fmt.Sprintf("%s: script info missing, treated as public", name))
	}

	return desc, warnings, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
