// Package perms normalizes ownership and mode bits of published artifacts so
// a separately privileged web server can read them.
package perms

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

// Last-resort identity when neither configuration nor a reference path
// supplies one.
const (
	DefaultUser  = "www-data"
	DefaultGroup = "www-data"
)

// OwnershipPolicy is the identity artifacts should belong to. It is resolved
// once per normalization pass and passed down explicitly.
type OwnershipPolicy struct {
	User  string
	Group string
}

// IsComplete reports whether both user and group are set.
func (p OwnershipPolicy) IsComplete() bool {
	return p.User != "" && p.Group != ""
}

func (p OwnershipPolicy) String() string {
	return p.User + ":" + p.Group
}

// Owner is a numeric file owner.
type Owner struct {
	UID int
	GID int
}

// OwnerReader reads the current owner of a path without following symlinks.
type OwnerReader interface {
	Owner(path string) (Owner, error)
}

// Accounts maps between account names and numeric ids.
type Accounts interface {
	LookupUser(name string) (int, error)
	LookupGroup(name string) (int, error)
	UserName(uid int) (string, error)
	GroupName(gid int) (string, error)
}

// ResolvePolicy picks the target identity: explicit configuration first, then
// the owner of referencePath, then fallback, then DefaultUser/DefaultGroup.
// Missing fields are filled from the next source in that order.
func ResolvePolicy(
	explicit OwnershipPolicy,
	referencePath string,
	fallback OwnershipPolicy,
	owners OwnerReader,
	accounts Accounts,
) OwnershipPolicy {
	policy := explicit
	if !policy.IsComplete() && referencePath != "" && owners != nil && accounts != nil {
		if owner, err := owners.Owner(referencePath); err == nil {
			if policy.User == "" {
				if name, err := accounts.UserName(owner.UID); err == nil {
					policy.User = name
				}
			}
			if policy.Group == "" {
				if name, err := accounts.GroupName(owner.GID); err == nil {
					policy.Group = name
				}
			}
		}
	}
	if policy.User == "" {
		policy.User = fallback.User
	}
	if policy.Group == "" {
		policy.Group = fallback.Group
	}
	if policy.User == "" {
		policy.User = DefaultUser
	}
	if policy.Group == "" {
		policy.Group = DefaultGroup
	}
	return policy
}

// SystemAccounts resolves names through the host account database. Numeric
// names are accepted as ids.
type SystemAccounts struct{}

// LookupUser implements Accounts.
func (SystemAccounts) LookupUser(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", name, err)
	}
	return parseID(u.Uid)
}

// LookupGroup implements Accounts.
func (SystemAccounts) LookupGroup(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup group %q: %w", name, err)
	}
	return parseID(g.Gid)
}

// UserName implements Accounts.
func (SystemAccounts) UserName(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", fmt.Errorf("lookup uid %d: %w", uid, err)
	}
	return u.Username, nil
}

// GroupName implements Accounts.
func (SystemAccounts) GroupName(gid int) (string, error) {
	g, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return "", fmt.Errorf("lookup gid %d: %w", gid, err)
	}
	return g.Name, nil
}

var errNonNumericID = errors.New("non-numeric account id")

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errNonNumericID, raw)
	}
	return id, nil
}
