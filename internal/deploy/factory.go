package deploy

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// NewTarget builds the adapter for one configured target.
func NewTarget(tc config.TargetConfig, clock clockwork.Clock) (Target, error) {
	switch tc.Kind {
	case config.TargetStaticHost:
		if tc.Dir == "" {
			return nil, foundationerrors.ConfigError("statichost target needs dir").WithContext("target", tc.Name).Build()
		}
		return NewStaticHost(tc.Name, tc.Dir), nil
	case config.TargetGitPages:
		if tc.RepoPath == "" {
			return nil, foundationerrors.ConfigError("gitpages target needs repo_path").WithContext("target", tc.Name).Build()
		}
		return NewGitPages(tc.Name, tc.RepoPath, tc.Branch, tc.Endpoint, clock), nil
	case config.TargetHTTPHost:
		if tc.Endpoint == "" {
			return nil, foundationerrors.ConfigError("httphost target needs endpoint").WithContext("target", tc.Name).Build()
		}
		return NewHTTPHost(tc.Name, tc.Endpoint, &http.Client{Timeout: time.Minute}), nil
	default:
		return nil, foundationerrors.ConfigError("unknown target kind").
			WithContext("target", tc.Name).WithContext("kind", string(tc.Kind)).Build()
	}
}

// BindingsFromConfig builds every configured target.
func BindingsFromConfig(targets []config.TargetConfig, clock clockwork.Clock) ([]Binding, error) {
	out := make([]Binding, 0, len(targets))
	for _, tc := range targets {
		t, err := NewTarget(tc, clock)
		if err != nil {
			return nil, err
		}
		out = append(out, Binding{Target: t, CredentialRef: tc.CredentialRef, PublicURL: tc.PublicURL})
	}
	return out, nil
}
