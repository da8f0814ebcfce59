package domain

import (
	"fmt"
	"path/filepath"
)

// Well-known file and directory names inside a target instance root.
const (
	ComposeFileName  = "docker-compose.yml"
	EnvFileName      = ".env"
	InstanceFileName = "instance.yml"
	VolumesDirName   = "volumes"
)

// Service names of the managed stack. The set is fixed; a concrete target
// may run a subset of it.
const (
	ServiceDatabase  = "db"
	ServiceAPI       = "kong"
	ServiceAuth      = "auth"
	ServiceRest      = "rest"
	ServiceRealtime  = "realtime"
	ServiceStorage   = "storage"
	ServiceMeta      = "meta"
	ServiceFunctions = "functions"
	ServiceStudio    = "studio"
)

// MutableServices are the services whose on-disk state must be quiesced
// before a consistent volume copy can be taken.
var MutableServices = []string{ServiceDatabase, ServiceStorage, ServiceFunctions}

// Instance is a read-only view of an externally managed running stack.
// Provisioning and port allocation belong to the external project registry;
// the core only consumes the id, the filesystem root and the port map.
type Instance struct {
	ID       string
	RootDir  string
	Services []string
	Ports    map[string]int
}

// ComposePath returns the path of the stack descriptor.
func (i Instance) ComposePath() string {
	return filepath.Join(i.RootDir, ComposeFileName)
}

// EnvPath returns the path of the environment file.
func (i Instance) EnvPath() string {
	return filepath.Join(i.RootDir, EnvFileName)
}

// InstancePath returns the path of the CLI instance config file.
func (i Instance) InstancePath() string {
	return filepath.Join(i.RootDir, InstanceFileName)
}

// VolumesDir returns the bind-mounted volumes root.
func (i Instance) VolumesDir() string {
	return filepath.Join(i.RootDir, VolumesDirName)
}

// StorageDir returns the object-storage bind mount.
func (i Instance) StorageDir() string {
	return filepath.Join(i.VolumesDir(), "storage")
}

// FunctionsDir returns the function-code bind mount.
func (i Instance) FunctionsDir() string {
	return filepath.Join(i.VolumesDir(), "functions")
}

// ContainerName returns the runtime container name for a service,
// following compose v2 naming.
func (i Instance) ContainerName(service string) string {
	return fmt.Sprintf("%s-%s-1", i.ID, service)
}

// VolumePrefix returns the name prefix of the instance's named volumes.
func (i Instance) VolumePrefix() string {
	return i.ID + "_"
}

// APIPort returns the port the API gateway listens on, or 0 when unknown.
func (i Instance) APIPort() int {
	return i.Ports[ServiceAPI]
}
