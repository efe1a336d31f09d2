package provisioner

import "context"

// Provisioner drives the declarative VM tool. Machine-level calls run with
// the VM directory as working directory.
type Provisioner interface {
	Up(ctx context.Context, dir string) error
	Halt(ctx context.Context, dir string) error
	Destroy(ctx context.Context, dir string) error

	HasBox(ctx context.Context, box string) (bool, error)
	AddBox(ctx context.Context, box string) error

	// Version checks the tool responds.
	Version(ctx context.Context) (string, error)
	// Plugins lists installed plugin names.
	Plugins(ctx context.Context) ([]string, error)
}
