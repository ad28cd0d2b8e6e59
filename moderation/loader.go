package moderation

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"strings"

	"github.com/samber/lo"
)

//go:embed wordlists/*
var wordlistFolder embed.FS

// LoadWordlists reads every embedded .txt dictionary (one word per line,
// '#' lines are comments) and returns the deduplicated word set plus the
// list of language codes, for logging.
func LoadWordlists() (words []string, languages []string, err error) {
	entries, err := fs.ReadDir(wordlistFolder, "wordlists")
	if err != nil {
		return nil, nil, err
	}

	var all []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := wordlistFolder.ReadFile("wordlists/" + entry.Name())
		if err != nil {
			return nil, nil, err
		}

		// A scanner handles both \n and \r\n line endings.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			all = append(all, strings.ToLower(line))
		}
		if err := scanner.Err(); err != nil {
			return nil, nil, err
		}
	}

	return lo.Uniq(all), languages, nil
}
