// Package namespace maps identities to their private VM directories and
// arbitrates access to them.
package namespace

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

// Policy decides which identities administer every namespace.
type Policy interface {
	IsAdmin(user string) bool
}

// StaticPolicy is an allow-list of administrators.
type StaticPolicy struct {
	admins map[string]struct{}
}

// NewStaticPolicy builds a Policy from a fixed list.
func NewStaticPolicy(admins []string) *StaticPolicy {
	return &StaticPolicy{admins: lo.SliceToMap(admins, func(a string) (string, struct{}) {
		return a, struct{}{}
	})}
}

func (p *StaticPolicy) IsAdmin(user string) bool {
	_, ok := p.admins[user]
	return ok
}

// Namespaces owns the {root}/{user}/{vm} tree.
type Namespaces struct {
	root   string
	policy Policy
}

// New creates Namespaces rooted at root.
func New(root string, policy Policy) *Namespaces {
	return &Namespaces{root: root, policy: policy}
}

func (n *Namespaces) IsAdmin(user string) bool { return n.policy.IsAdmin(user) }

// UserDir returns the user's namespace, creating it on first access.
func (n *Namespaces) UserDir(user string) (string, error) {
	if err := validUser(user); err != nil {
		return "", err
	}
	dir := filepath.Join(n.root, user)
	if err := utils.EnsureDirs(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Resolve finds the directory of vm on behalf of user. Ordinary users only
// ever see their own namespace and get ErrUnauthorized for anything else,
// whether or not the name exists elsewhere. Administrators search every
// namespace, their own first, and get ErrNotFound when nothing matches.
func (n *Namespaces) Resolve(user, vm string) (*types.VMRef, error) {
	if err := validUser(user); err != nil {
		return nil, err
	}
	if err := types.ValidateName(vm); err != nil {
		return nil, err
	}
	if dir := filepath.Join(n.root, user, vm); utils.IsDir(dir) {
		return &types.VMRef{Name: vm, Owner: user, Dir: dir}, nil
	}
	if !n.IsAdmin(user) {
		return nil, fmt.Errorf("%s: %w", vm, types.ErrUnauthorized)
	}
	owners, err := n.owners()
	if err != nil {
		return nil, err
	}
	for _, owner := range owners {
		if dir := filepath.Join(n.root, owner, vm); utils.IsDir(dir) {
			return &types.VMRef{Name: vm, Owner: owner, Dir: dir}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", vm, types.ErrNotFound)
}

// Visible lists the VMs user may see, sorted by owner then name.
func (n *Namespaces) Visible(user string) ([]types.VMRef, error) {
	if !n.IsAdmin(user) {
		if err := validUser(user); err != nil {
			return nil, err
		}
		return n.list(user)
	}
	return n.All()
}

// All lists every VM on the host.
func (n *Namespaces) All() ([]types.VMRef, error) {
	owners, err := n.owners()
	if err != nil {
		return nil, err
	}
	var refs []types.VMRef
	for _, owner := range owners {
		vms, err := n.list(owner)
		if err != nil {
			return nil, err
		}
		refs = append(refs, vms...)
	}
	return refs, nil
}

// Taken reports whether any namespace holds a VM called vm. Domain names
// are global on the host, so names must be too.
func (n *Namespaces) Taken(vm string) (bool, error) {
	all, err := n.All()
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(all, func(r types.VMRef) bool { return r.Name == vm }), nil
}

func (n *Namespaces) owners() ([]string, error) {
	owners, err := utils.ScanSubdirs(n.root)
	if err != nil {
		return nil, err
	}
	slices.Sort(owners)
	return owners, nil
}

func (n *Namespaces) list(owner string) ([]types.VMRef, error) {
	dir := filepath.Join(n.root, owner)
	names, err := utils.ScanSubdirs(dir)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return lo.Map(names, func(name string, _ int) types.VMRef {
		return types.VMRef{Name: name, Owner: owner, Dir: filepath.Join(dir, name)}
	}), nil
}

func validUser(user string) error {
	if user == "" {
		return fmt.Errorf("empty identity: %w", types.ErrUnauthorized)
	}
	if err := types.ValidateName(user); err != nil {
		return fmt.Errorf("identity %q: %w", user, types.ErrUnauthorized)
	}
	return nil
}
