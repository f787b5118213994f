package orchestrator

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/mpataki/collab/internal/worker"
)

// ValidateArtifact reports whether path names an existing, non-empty
// regular file.
func ValidateArtifact(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

var prURLPattern = regexp.MustCompile(`https://github\.com/[^\s"']+/pull/\d+`)

var prURLKeys = []string{"pr_url", "url", "html_url"}

// ExtractPRURL finds the pull request URL in a worker result: an explicit
// pr_url, url or html_url field first, then any GitHub pull URL in the text.
// It returns "" when there is none.
func ExtractPRURL(res worker.Result) string {
	raw, err := json.Marshal(res)
	if err != nil {
		return ""
	}

	for _, v := range gjson.GetManyBytes(raw, prURLKeys...) {
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	// The text lives in "result" when the worker answered in prose; the
	// marshaled document covers everything else.
	if m := prURLPattern.FindString(res.String("result")); m != "" {
		return m
	}
	return prURLPattern.FindString(string(raw))
}
