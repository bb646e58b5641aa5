package steps

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// PushReferences expands a push target and its tags into one image
// reference per tag. A URL scheme is ignored. Without tags the tag embedded
// in the target is used, or latest.
func PushReferences(target string, tags []string) ([]string, error) {
	target = strings.TrimPrefix(target, "https://")
	target = strings.TrimPrefix(target, "http://")
	target = strings.TrimSuffix(target, "/")

	named, err := reference.ParseNormalizedNamed(target)
	if err != nil {
		return nil, fmt.Errorf("invalid push target %q: %w", target, err)
	}
	if _, ok := named.(reference.Digested); ok {
		return nil, fmt.Errorf("push target %q must not contain a digest", target)
	}

	if len(tags) == 0 {
		return []string{reference.FamiliarString(reference.TagNameOnly(named))}, nil
	}

	repo := reference.TrimNamed(named)
	refs := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagged, err := reference.WithTag(repo, tag)
		if err != nil {
			return nil, fmt.Errorf("invalid tag %q: %w", tag, err)
		}
		refs = append(refs, reference.FamiliarString(tagged))
	}
	return refs, nil
}

// registryHost returns the registry domain of ref, or "" when it cannot be
// parsed.
func registryHost(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ""
	}
	return reference.Domain(named)
}
