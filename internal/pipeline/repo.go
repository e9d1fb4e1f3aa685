package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedRepo is a repo URL normalized to a clonable HTTPS URL plus an
// optional ref (branch, tag, or commit) to check out after cloning.
type ParsedRepo struct {
	CloneURL string
	Ref      string
}

// shorthandPattern matches the GitHub shorthand grammar: owner/repo,
// optionally followed by #ref (e.g. "acme/widgets#v1.2.0").
var shorthandPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// ParseRepoURL normalizes the handful of repo URL forms the Preparation
// Pipeline accepts:
//
//	owner/repo               -> https://github.com/owner/repo.git
//	owner/repo#ref            -> as above, Ref = "ref"
//	https://host/owner/repo   -> as given, with ".git" appended if absent
//	https://host/owner/repo#ref
//	git@host:owner/repo.git   -> as given (SSH form passed through verbatim)
//
// An unrecognized form is rejected rather than guessed at, since a
// mis-parsed clone URL would otherwise fail deep inside step_clone_repo
// with a confusing error instead of a clear one here.
func ParseRepoURL(raw string) (ParsedRepo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedRepo{}, fmt.Errorf("repo URL is empty")
	}

	url, ref, _ := strings.Cut(raw, "#")

	switch {
	case strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://"):
		if !strings.HasSuffix(url, ".git") {
			url += ".git"
		}
		return ParsedRepo{CloneURL: url, Ref: ref}, nil

	case strings.HasPrefix(url, "git@"):
		return ParsedRepo{CloneURL: url, Ref: ref}, nil

	case shorthandPattern.MatchString(url):
		return ParsedRepo{CloneURL: "https://github.com/" + url + ".git", Ref: ref}, nil

	default:
		return ParsedRepo{}, fmt.Errorf("unrecognized repo URL form: %q", raw)
	}
}
