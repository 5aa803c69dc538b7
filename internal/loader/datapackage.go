package loader

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/redbco/ddfserver/internal/ddferrors"
)

// Manifest is the subset of a DDF datapackage.json this loader consumes:
// the resource list (CSV files plus their declared primary key) and any
// top-level metadata that survives into the catalog entry.
type Manifest struct {
	Name      string             `json:"name"`
	Title     string             `json:"title"`
	Resources []ManifestResource `json:"resources"`
}

// ManifestResource describes one CSV resource and its primary key, per
// the frictionless-data "tabular-data-resource" shape DDF packages use.
type ManifestResource struct {
	Path   string   `json:"path"`
	Schema struct {
		PrimaryKey []string `json:"primaryKey"`
		Fields     []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
}

// ReadManifest loads and parses datapackage.json from dir.
func ReadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "datapackage.json"))
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.SchemaValidation, err, "failed to read datapackage.json")
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ddferrors.Wrap(ddferrors.SchemaValidation, err, "malformed datapackage.json")
	}
	return &m, nil
}

// DiscoverTranslations walks lang/<id>/ subdirectories (spec §4.5 step 2),
// returning the set of language ids found and, per id, every *.csv file
// directly under lang/<id>/.
func DiscoverTranslations(dir string) (map[string][]string, error) {
	langDir := filepath.Join(dir, "lang")
	entries, err := os.ReadDir(langDir)
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to read lang directory")
	}

	out := map[string][]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		files, err := filepath.Glob(filepath.Join(langDir, id, "*.csv"))
		if err != nil {
			return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to glob translation files")
		}
		out[id] = files
	}
	return out, nil
}

// DiscoverAssets lists every file under assets/ for upload (spec §4.5 step 7).
func DiscoverAssets(dir string) ([]string, error) {
	assetsDir := filepath.Join(dir, "assets")
	var out []string
	err := filepath.Walk(assetsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() {
			rel, relErr := filepath.Rel(assetsDir, path)
			if relErr != nil {
				return relErr
			}
			out = append(out, rel)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to walk assets directory")
	}
	return out, nil
}
