package parser

import (
	"os"
	"strings"
)

// codeFallbackLines is how much of a file stands in when it has no comments.
const codeFallbackLines = 50

func parseCode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return codeText(strings.ToValidUTF8(string(data), "")), nil
}

// codeText keeps docstrings, block comments and line comments. A file with none of
// those is represented by its first lines instead.
func codeText(source string) string {
	lines := strings.SplitAfter(source, "\n")

	var (
		extracted []string
		block     []string
		closer    string
	)
	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if closer != "" {
			block = append(block, stripped)
			if strings.Contains(stripped, closer) {
				extracted = append(extracted, strings.Join(block, "\n"))
				block, closer = nil, ""
			}
			continue
		}

		if open := blockOpener(stripped); open != "" {
			end := open
			if open == "/*" {
				end = "*/"
			}
			rest := stripped[strings.Index(stripped, open)+len(open):]
			if strings.Contains(rest, end) {
				extracted = append(extracted, stripped)
				continue
			}
			block, closer = []string{stripped}, end
			continue
		}

		if strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, "//") {
			extracted = append(extracted, stripped)
		}
	}
	if len(block) > 0 {
		extracted = append(extracted, strings.Join(block, "\n"))
	}

	result := strings.Join(extracted, "\n")
	if strings.TrimSpace(result) == "" {
		n := min(len(lines), codeFallbackLines)
		return strings.Join(lines[:n], "")
	}
	return result
}

func blockOpener(line string) string {
	for _, open := range []string{`"""`, `'''`, "/*"} {
		if strings.Contains(line, open) {
			return open
		}
	}
	return ""
}
