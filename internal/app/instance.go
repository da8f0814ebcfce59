package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bnema/stackops/internal/compose"
	"github.com/bnema/stackops/internal/domain"
)

// instanceFile is the on-disk shape of instance.yml, written by the
// provisioner that created the target.
type instanceFile struct {
	ID       string         `yaml:"id"`
	Services []string       `yaml:"services"`
	Ports    map[string]int `yaml:"ports"`
}

// envPortKeys maps well-known .env variables to the service whose
// published port they define, as a fallback when instance.yml records
// no ports.
var envPortKeys = map[string]string{
	"KONG_HTTP_PORT":   domain.ServiceAPI,
	"POSTGRES_PORT":    domain.ServiceDatabase,
	"STUDIO_PORT":      domain.ServiceStudio,
	"FUNCTIONS_PORT":   domain.ServiceFunctions,
	"REALTIME_PORT":    domain.ServiceRealtime,
	"AUTH_PORT":        domain.ServiceAuth,
	"POSTGREST_PORT":   domain.ServiceRest,
	"STORAGE_API_PORT": domain.ServiceStorage,
}

// LoadInstance resolves a target ID to its on-disk instance. The service
// list falls back to the compose file and ports fall back to the .env
// file when instance.yml does not record them.
func LoadInstance(cfg Config, id string) (domain.Instance, error) {
	root := filepath.Join(cfg.TargetsDir, id)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return domain.Instance{}, fmt.Errorf("%s: %w", id, domain.ErrTargetNotFound)
	}

	target := domain.Instance{ID: id, RootDir: root}

	data, err := os.ReadFile(target.InstancePath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Provisioners that predate instance.yml leave only the compose
		// file behind.
	case err != nil:
		return domain.Instance{}, fmt.Errorf("read instance descriptor: %w", err)
	default:
		var file instanceFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return domain.Instance{}, fmt.Errorf("parse instance descriptor: %w", domain.ErrInvalidConfig)
		}
		if file.ID != "" && file.ID != id {
			return domain.Instance{}, fmt.Errorf("instance descriptor names %q, expected %q: %w", file.ID, id, domain.ErrInvalidConfig)
		}
		target.Services = file.Services
		target.Ports = file.Ports
	}

	if len(target.Services) == 0 {
		composeFile, err := compose.Load(target.ComposePath())
		if err != nil {
			return domain.Instance{}, fmt.Errorf("%s has no instance descriptor and no readable compose file: %w", id, domain.ErrConfigNotFound)
		}
		target.Services = composeFile.ServiceNames()
	}

	if len(target.Ports) == 0 {
		target.Ports = portsFromEnv(target.EnvPath())
	}
	return target, nil
}

// portsFromEnv reads published ports from the target's .env file. A
// missing or unreadable .env just yields no ports.
func portsFromEnv(path string) map[string]int {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil
	}
	ports := make(map[string]int)
	for key, service := range envPortKeys {
		raw, ok := env[key]
		if !ok {
			continue
		}
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 {
			continue
		}
		ports[service] = port
	}
	if len(ports) == 0 {
		return nil
	}
	return ports
}
