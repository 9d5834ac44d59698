package envforge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 3: pinned repository acquisition
////////////////////////////////////////////////////////////////////////////////

func repoFetcherWorkerAction(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("repo fetcher starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameRepoFetcher, stepStart, "acquire pinned source repositories")

	outcome, err := runRepoAcquisition(ctx, workspace, msg)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameRepoFetcher,
			time.Now().UTC(),
			"",
			err.Error(),
			outcome.artifacts,
		)
		return res, err
	}

	res.Message = outcome.message
	res.Artifacts = outcome.artifacts
	_ = markRunStepEnd(
		ctx,
		store,
		msg.RunID,
		workerNameRepoFetcher,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

type acquiredRepo struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Branch       string `json:"branch,omitempty"`
	PinnedCommit string `json:"pinned_commit,omitempty"`
	Ref          string `json:"ref"`
	Head         string `json:"head"`
	Reproducible bool   `json:"reproducible"`
}

func runRepoAcquisition(
	ctx context.Context,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
) (stageOutcome, error) {
	spec := normalizeEnvironmentSpec(msg.Spec)
	if _, err := workspace.EnsureRoot(); err != nil {
		return newStageOutcome(), err
	}

	acquired := make([]acquiredRepo, 0, len(spec.Repositories))
	for _, repoSpec := range spec.Repositories {
		dest := workspace.RepoDir(repoSpec.Name)
		head, err := acquireRepository(ctx, repoSpec, dest)
		if err != nil {
			return newStageOutcome(), fmt.Errorf("acquire %s: %w", repoSpec.Name, err)
		}
		ref, _, refErr := gitHeadDetails(ctx, dest)
		if refErr != nil {
			return newStageOutcome(), fmt.Errorf("inspect %s: %w", repoSpec.Name, refErr)
		}
		acquired = append(acquired, acquiredRepo{
			Name:         repoSpec.Name,
			URL:          repoSpec.URL,
			Branch:       repoSpec.Branch,
			PinnedCommit: repoSpec.Commit,
			Ref:          ref,
			Head:         head,
			Reproducible: repoSpec.Reproducible(),
		})
	}

	lockPath, err := workspace.WriteFile("provision/repos-lock.json", mustJSON(map[string]any{
		"run_id":       msg.RunID,
		"acquired_at":  time.Now().UTC().Format(time.RFC3339),
		"repositories": acquired,
	}))
	if err != nil {
		return newStageOutcome(), err
	}
	return stageOutcome{
		message:   fmt.Sprintf("acquired %d repositories", len(acquired)),
		artifacts: []string{lockPath},
	}, nil
}

// acquireRepository clones one repository and, when a commit is pinned,
// detaches the working tree at exactly that revision as a second, independent
// step. The destination must not already exist: a partial clone from an
// aborted run is never reused.
func acquireRepository(ctx context.Context, repoSpec RepositorySpec, dest string) (string, error) {
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("destination %s already exists", dest)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, cloneOpTimeout)
	defer cancel()
	if err := ensureContextAlive(runCtx); err != nil {
		return "", err
	}

	cloneOpts := gogit.CloneOptions{
		URL: repoSpec.URL,
	}
	if repoSpec.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(repoSpec.Branch)
		cloneOpts.SingleBranch = true
	}
	repo, err := gogit.PlainCloneContext(runCtx, dest, false, &cloneOpts)
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", repoSpec.URL, err)
	}

	if repoSpec.Commit != "" {
		if err := checkoutPinnedCommit(repo, repoSpec.Commit); err != nil {
			return "", err
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read head: %w", err)
	}
	return head.Hash().String(), nil
}

// checkoutPinnedCommit detaches the working tree at the pinned revision.
// Abbreviated pins are resolved to the full hash first; a pin that matches no
// commit in the cloned branch is fatal.
func checkoutPinnedCommit(repo *gogit.Repository, commit string) error {
	hash, err := repo.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		return fmt.Errorf("pinned commit %s not found: %w", commit, err)
	}
	if hash == nil {
		return fmt.Errorf("pinned commit %s not found: empty hash", commit)
	}
	if _, err := repo.CommitObject(*hash); err != nil {
		return fmt.Errorf("pinned commit %s not found: %w", commit, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	checkoutErr := wt.Checkout(&gogit.CheckoutOptions{
		Hash:                      *hash,
		Branch:                    "",
		Create:                    false,
		Force:                     true,
		Keep:                      false,
		SparseCheckoutDirectories: nil,
	})
	if checkoutErr != nil {
		return fmt.Errorf("checkout %s: %w", commit, checkoutErr)
	}
	return nil
}

func gitHeadDetails(ctx context.Context, dir string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, gitReadTimeout)
	defer cancel()
	if err := ensureContextAlive(runCtx); err != nil {
		return "", "", err
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", "", fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("read head: %w", err)
	}
	return head.Name().Short(), strings.TrimSpace(head.Hash().String()), nil
}
