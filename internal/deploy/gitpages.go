package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/credentials"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

const (
	versionRefPrefix = "refs/storebuilder/versions/"
	versionTrailer   = "Bundle-Version: "
	publishRemote    = "publish"
)

// GitPages publishes into a bare git repository in the style of git-backed
// pages hosting. Every version is a root commit kept alive by its own ref;
// each tenant has its own live branch, <branch>/<tenant>, moved with a
// compare-and-set. When a remote endpoint is configured the tenant's branch
// is force-pushed after activation.
type GitPages struct {
	name     string
	repoPath string
	branch   string
	endpoint string
	clock    clockwork.Clock
}

// NewGitPages creates a target over the bare repository at repoPath.
func NewGitPages(name, repoPath, branch, endpoint string, clock clockwork.Clock) *GitPages {
	if branch == "" {
		branch = "pages"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GitPages{
		name:     name,
		repoPath: repoPath,
		branch:   branch,
		endpoint: endpoint,
		clock:    clock,
	}
}

func (g *GitPages) Name() string            { return g.name }
func (g *GitPages) Kind() config.TargetKind { return config.TargetGitPages }

// Branch returns the live branch of a tenant.
func (g *GitPages) Branch(tenantID string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(g.branch + "/" + tenantID)
}

func versionRef(tenantID, version string) plumbing.ReferenceName {
	return plumbing.ReferenceName(versionRefPrefix + tenantID + "/" + version)
}

func (g *GitPages) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, foundationerrors.NotFoundError("pages repository not initialised").WithContext("path", g.repoPath).Build()
	}
	if err != nil {
		return nil, fmt.Errorf("open pages repository: %w", err)
	}
	return repo, nil
}

// Prepare initialises the bare repository on first use.
func (g *GitPages) Prepare(_ context.Context, b *Bundle) error {
	if err := checkTenant(b.TenantID); err != nil {
		return err
	}
	_, err := git.PlainOpen(g.repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		_, err = git.PlainInit(g.repoPath, true)
	}
	if err != nil {
		return fmt.Errorf("prepare pages repository: %w", err)
	}
	return nil
}

// Upload writes the bundle as a commit and pins it with a version ref.
func (g *GitPages) Upload(ctx context.Context, b *Bundle) error {
	repo, err := g.open()
	if err != nil {
		return err
	}
	ref := versionRef(b.TenantID, b.Version)
	if _, err := repo.Reference(ref, false); err == nil {
		return nil
	}

	root := newTreeNode()
	for _, f := range b.Files {
		root.add(strings.Split(f.Path, "/"), f.Data)
	}
	treeHash, err := root.store(ctx, repo.Storer)
	if err != nil {
		return err
	}
	sig := object.Signature{Name: "storebuilder", Email: "storebuilder@localhost", When: g.clock.Now()}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   fmt.Sprintf("Publish %s store\n\n%s%s\n", b.TenantID, versionTrailer, b.Version),
		TreeHash:  treeHash,
	}
	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("store commit: %w", err)
	}
	return repo.Storer.SetReference(plumbing.NewHashReference(ref, hash))
}

// HealthCheck verifies the version commit exists and serves an index page.
func (g *GitPages) HealthCheck(_ context.Context, tenantID, version string) error {
	repo, err := g.open()
	if err != nil {
		return err
	}
	commit, err := g.versionCommit(repo, tenantID, version)
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("read tree: %w", err)
	}
	if _, err := tree.File("index.html"); err != nil {
		return fmt.Errorf("version %s has no index.html: %w", version, err)
	}
	return nil
}

func (g *GitPages) versionCommit(repo *git.Repository, tenantID, version string) (*object.Commit, error) {
	ref, err := repo.Reference(versionRef(tenantID, version), false)
	if err != nil {
		return nil, foundationerrors.NotFoundError("version not uploaded").
			WithCause(err).
			WithContext("tenant_id", tenantID).
			WithContext("version", version).
			Build()
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read version commit: %w", err)
	}
	return commit, nil
}

func (g *GitPages) Activate(ctx context.Context, tenantID, version string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	return g.moveBranch(ctx, tenantID, version)
}

func (g *GitPages) Rollback(ctx context.Context, tenantID, previous string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if previous == "" {
		repo, err := g.open()
		if err != nil {
			return err
		}
		if err := repo.Storer.RemoveReference(g.Branch(tenantID)); err != nil {
			return fmt.Errorf("remove live branch: %w", err)
		}
		return nil
	}
	return g.moveBranch(ctx, tenantID, previous)
}

func (g *GitPages) moveBranch(ctx context.Context, tenantID, version string) error {
	repo, err := g.open()
	if err != nil {
		return err
	}
	commit, err := g.versionCommit(repo, tenantID, version)
	if err != nil {
		return err
	}
	branch := g.Branch(tenantID)
	old, err := repo.Reference(branch, false)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("read live branch: %w", err)
	}
	if err := repo.Storer.CheckAndSetReference(plumbing.NewHashReference(branch, commit.Hash), old); err != nil {
		return fmt.Errorf("move live branch: %w", err)
	}
	if g.endpoint != "" {
		return g.push(ctx, repo, branch)
	}
	return nil
}

func (g *GitPages) push(ctx context.Context, repo *git.Repository, branch plumbing.ReferenceName) error {
	cred, err := credentials.FromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := repo.Remote(publishRemote); errors.Is(err, git.ErrRemoteNotFound) {
		if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: publishRemote, URLs: []string{g.endpoint}}); err != nil {
			return fmt.Errorf("configure publish remote: %w", err)
		}
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: publishRemote,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       &http.BasicAuth{Username: "token", Password: cred.Secret},
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push live branch: %w", err)
	}
	return nil
}

func (g *GitPages) ActiveVersion(_ context.Context, tenantID string) (string, error) {
	if err := checkTenant(tenantID); err != nil {
		return "", err
	}
	repo, err := g.open()
	if err != nil {
		if foundationerrors.HasCategory(err, foundationerrors.CategoryNotFound) {
			return "", nil
		}
		return "", err
	}
	ref, err := repo.Reference(g.Branch(tenantID), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read live branch: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("read live commit: %w", err)
	}
	for _, line := range strings.Split(commit.Message, "\n") {
		if v, ok := strings.CutPrefix(line, versionTrailer); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("live commit %s carries no bundle version", commit.Hash)
}

// ReadFile returns a file of the tenant's live version.
func (g *GitPages) ReadFile(tenantID, p string) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(g.Branch(tenantID), false)
	if err != nil {
		return "", err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", err
	}
	f, err := commit.File(path.Clean(p))
	if err != nil {
		return "", err
	}
	return f.Contents()
}

type treeNode struct {
	files map[string][]byte
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{files: map[string][]byte{}, dirs: map[string]*treeNode{}}
}

func (n *treeNode) add(parts []string, data []byte) {
	if len(parts) == 1 {
		n.files[parts[0]] = data
		return
	}
	sub, ok := n.dirs[parts[0]]
	if !ok {
		sub = newTreeNode()
		n.dirs[parts[0]] = sub
	}
	sub.add(parts[1:], data)
}

// store writes the node's blobs and subtrees and returns its tree hash.
// Entries follow git's ordering, where a directory sorts as name + "/".
func (n *treeNode) store(ctx context.Context, s storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	for name, data := range n.files {
		if err := ctx.Err(); err != nil {
			return plumbing.ZeroHash, context.Cause(ctx)
		}
		h, err := storeBlob(s, data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: h})
	}
	for name, sub := range n.dirs {
		h, err := sub.store(ctx, s)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool { return sortKey(entries[i]) < sortKey(entries[j]) })

	tree := &object.Tree{Entries: entries}
	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return s.SetEncodedObject(obj)
}

func storeBlob(s storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}
