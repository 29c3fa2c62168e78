package perms

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/metrics"
)

// Modes applied to artifact trees.
const (
	DirMode  fs.FileMode = 0o755
	FileMode fs.FileMode = 0o644
)

// Report summarizes one normalization pass.
type Report struct {
	Changed int `json:"changed"`
	Errors  int `json:"errors"`
}

// Add folds another report into r.
func (r *Report) Add(other Report) {
	r.Changed += other.Changed
	r.Errors += other.Errors
}

// Settings are the inputs to policy resolution.
type Settings struct {
	Explicit      OwnershipPolicy
	ReferencePath string
	Fallback      OwnershipPolicy
	// Escalate enables the privileged retry on verified mismatch.
	Escalate bool
}

// Normalizer applies modes and ownership. Every step is best-effort; problems
// are logged and counted, never returned.
type Normalizer struct {
	settings  Settings
	owners    OwnerReader
	accounts  Accounts
	escalator Escalator
	chmod     func(string, fs.FileMode) error
	lchown    func(string, int, int) error
	logger    *zap.Logger
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithOwnerReader replaces the ownership verification step.
func WithOwnerReader(r OwnerReader) Option {
	return func(n *Normalizer) { n.owners = r }
}

// WithAccounts replaces the account database.
func WithAccounts(a Accounts) Option {
	return func(n *Normalizer) { n.accounts = a }
}

// WithEscalator replaces the privileged chown.
func WithEscalator(e Escalator) Option {
	return func(n *Normalizer) { n.escalator = e }
}

// WithFileOps replaces the in-process chmod and lchown primitives.
func WithFileOps(chmod func(string, fs.FileMode) error, lchown func(string, int, int) error) Option {
	return func(n *Normalizer) {
		if chmod != nil {
			n.chmod = chmod
		}
		if lchown != nil {
			n.lchown = lchown
		}
	}
}

// NewNormalizer builds a Normalizer backed by the host filesystem.
func NewNormalizer(settings Settings, logger *zap.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		settings:  settings,
		owners:    StatOwnerReader{},
		accounts:  SystemAccounts{},
		escalator: SudoEscalator{},
		chmod:     os.Chmod,
		lchown:    os.Lchown,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Policy resolves the ownership policy for one pass.
func (n *Normalizer) Policy() OwnershipPolicy {
	return ResolvePolicy(n.settings.Explicit, n.settings.ReferencePath, n.settings.Fallback, n.owners, n.accounts)
}

// NormalizeArtifacts resolves the policy once and normalizes dir and paths
// with it.
func (n *Normalizer) NormalizeArtifacts(ctx context.Context, dir string, paths []string) Report {
	return n.Normalize(ctx, dir, paths, n.Policy())
}

// Normalize applies modes then ownership. dir, when set, is normalized
// without descending into it so a shared artifact directory stays
// traversable; each of paths is walked. Entries whose ownership still
// mismatches after the in-process change are escalated together, once.
func (n *Normalizer) Normalize(ctx context.Context, dir string, paths []string, policy OwnershipPolicy) Report {
	var report Report
	var entries []string
	if dir != "" {
		if n.applyDirMode(dir, &report) {
			entries = append(entries, dir)
		}
	}
	for _, root := range paths {
		if ctx.Err() != nil {
			report.Errors++
			continue
		}
		entries = append(entries, n.applyTreeModes(root, &report)...)
	}
	if len(entries) == 0 {
		return report
	}

	want, err := n.lookup(policy)
	if err != nil {
		n.logger.Warn("cannot resolve ownership policy", zap.String("policy", policy.String()), zap.Error(err))
		report.Errors++
		return report
	}

	var mismatched []string
	for _, path := range entries {
		current, err := n.owners.Owner(path)
		if err == nil && current == want {
			continue
		}
		if err := n.lchown(path, want.UID, want.GID); err != nil {
			n.logger.Debug("in-process chown failed", zap.String("path", path), zap.Error(err))
		}
		if after, err := n.owners.Owner(path); err != nil || after != want {
			mismatched = append(mismatched, path)
			continue
		}
		report.Changed++
	}
	if len(mismatched) > 0 {
		report.Add(n.escalate(ctx, policy, want, mismatched))
	}
	return report
}

func (n *Normalizer) lookup(policy OwnershipPolicy) (Owner, error) {
	uid, err := n.accounts.LookupUser(policy.User)
	if err != nil {
		return Owner{}, err
	}
	gid, err := n.accounts.LookupGroup(policy.Group)
	if err != nil {
		return Owner{}, err
	}
	return Owner{UID: uid, GID: gid}, nil
}

// applyDirMode normalizes dir itself, reporting whether it exists.
func (n *Normalizer) applyDirMode(dir string, report *Report) bool {
	info, err := os.Lstat(dir)
	if err != nil {
		n.logger.Warn("stat artifact dir", zap.String("path", dir), zap.Error(err))
		report.Errors++
		return false
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return true
	}
	if n.applyMode(dir, fs.FileInfoToDirEntry(info)) {
		report.Changed++
	}
	return true
}

// applyTreeModes walks root applying modes and returns every entry seen.
func (n *Normalizer) applyTreeModes(root string, report *Report) []string {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		entries = append(entries, path)
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if n.applyMode(path, d) {
			report.Changed++
		}
		return nil
	})
	if err != nil {
		n.logger.Warn("walk artifact path", zap.String("path", root), zap.Error(err))
		report.Errors++
	}
	return entries
}

func (n *Normalizer) escalate(ctx context.Context, policy OwnershipPolicy, want Owner, paths []string) Report {
	log := n.logger.With(zap.String("policy", policy.String()), zap.Int("entries", len(paths)))
	if !n.settings.Escalate || n.escalator == nil {
		log.Warn("ownership mismatch and escalation disabled")
		metrics.ObserveEscalation("skipped")
		return Report{Errors: 1}
	}
	if err := n.escalator.Chown(ctx, policy, paths); err != nil {
		log.Warn("privileged chown failed", zap.Error(err))
		metrics.ObserveEscalation("error")
		return Report{Errors: 1}
	}
	for _, path := range paths {
		if after, err := n.owners.Owner(path); err != nil || after != want {
			log.Warn("ownership still mismatched after escalation", zap.String("path", path))
			metrics.ObserveEscalation("mismatch")
			return Report{Errors: 1}
		}
	}
	metrics.ObserveEscalation("success")
	return Report{Changed: len(paths)}
}

// applyMode sets the canonical mode on path, reporting whether it changed.
func (n *Normalizer) applyMode(path string, d fs.DirEntry) bool {
	want := FileMode
	if d.IsDir() {
		want = DirMode
	}
	info, err := d.Info()
	if err == nil && info.Mode().Perm() == want {
		return false
	}
	if err := n.chmod(path, want); err != nil {
		n.logger.Debug("chmod failed", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
