// Package catalog loads the on-disk experience and grouping configuration:
// one config.toml (or config.yaml/config.json, for installations that still
// ship those) per experience directory plus shared collections.toml,
// tags.toml and folders.toml grouping files (spec §6). The loader is the Go
// equivalent of the teacher's apps.LocalApp file-to-struct flow
// (api/pkg/apps/local.go), adapted from a single YAML app file to a
// directory tree of descriptor files.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/footron/controller/internal/types"
)

// rawExperience mirrors the on-disk shape before kind-specific fields are
// split out; a "type" field selects the Experience subtype (spec §6). The
// same struct decodes all three supported formats, since every format uses
// the identical field names.
type rawExperience struct {
	ID              string   `toml:"id" yaml:"id" json:"id"`
	Type            string   `toml:"type" yaml:"type" json:"type"`
	Title           string   `toml:"title" yaml:"title" json:"title"`
	Description     string   `toml:"description" yaml:"description" json:"description"`
	LongDescription string   `toml:"long_description" yaml:"long_description" json:"long_description"`
	Artist          string   `toml:"artist" yaml:"artist" json:"artist"`
	Lifetime        int      `toml:"lifetime" yaml:"lifetime" json:"lifetime"`
	Layout          string   `toml:"layout" yaml:"layout" json:"layout"`
	Unlisted        bool     `toml:"unlisted" yaml:"unlisted" json:"unlisted"`
	Queueable       bool     `toml:"queueable" yaml:"queueable" json:"queueable"`
	LoadTime        int      `toml:"load_time" yaml:"load_time" json:"load_time"`
	Collection      string   `toml:"collection" yaml:"collection" json:"collection"`
	Tags            []string `toml:"tags" yaml:"tags" json:"tags"`

	ImageID     string `toml:"image_id" yaml:"image_id" json:"image_id"`
	HostNetwork bool   `toml:"host_network" yaml:"host_network" json:"host_network"`

	URL string `toml:"url" yaml:"url" json:"url"`

	Filename  string `toml:"filename" yaml:"filename" json:"filename"`
	Scrubbing bool   `toml:"scrubbing" yaml:"scrubbing" json:"scrubbing"`

	Path string `toml:"path" yaml:"path" json:"path"`
}

const defaultLifetime = 60

func (r rawExperience) toExperience(id string) (types.Experience, error) {
	exp := types.Experience{
		ID:              id,
		Kind:            types.Kind(r.Type),
		Title:           r.Title,
		Description:     r.Description,
		LongDescription: r.LongDescription,
		Artist:          r.Artist,
		Lifetime:        r.Lifetime,
		Layout:          types.Layout(r.Layout),
		Unlisted:        r.Unlisted,
		Queueable:       r.Queueable,
		LoadTime:        r.LoadTime,
		Collection:      r.Collection,
		Tags:            r.Tags,
		ImageID:         r.ImageID,
		HostNetwork:     r.HostNetwork,
		URL:             r.URL,
		Filename:        r.Filename,
		Scrubbing:       r.Scrubbing,
		CapturePath:     r.Path,
	}
	if exp.Lifetime == 0 {
		exp.Lifetime = defaultLifetime
	}
	if exp.Layout == "" {
		exp.Layout = types.LayoutFull
	}

	switch exp.Kind {
	case types.KindDocker, types.KindWeb, types.KindVideo, types.KindCapture:
	default:
		return types.Experience{}, fmt.Errorf("experience %q: unknown kind %q", id, r.Type)
	}

	if err := exp.Validate(); err != nil {
		return types.Experience{}, err
	}
	return exp, nil
}

// configFilenames are tried in order for each experience directory. TOML is
// the primary format (spec §6); YAML and JSON remain for installations that
// haven't migrated their descriptors yet.
var configFilenames = []string{"config.toml", "config.yaml", "config.yml", "config.json"}

// LoadExperiences walks <data>/experiences/<id>/, returning one Experience
// per directory. A directory without a readable config is logged and
// skipped rather than aborting the whole load, matching the teacher's
// tolerance for partially-broken catalogs (api/pkg/apps local loader returns
// a per-file error that the caller decides whether to treat as fatal).
func LoadExperiences(experiencesPath string) (map[string]types.Experience, error) {
	entries, err := os.ReadDir(experiencesPath)
	if err != nil {
		return nil, fmt.Errorf("reading experiences dir %s: %w", experiencesPath, err)
	}

	out := make(map[string]types.Experience, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		raw, err := decodeExperienceConfig(filepath.Join(experiencesPath, id))
		if err != nil {
			log.Warn().Err(err).Str("experience_id", id).Msg("failed to parse experience config, skipping")
			continue
		}
		if raw == nil {
			log.Warn().Str("experience_id", id).Msg("no experience config found, skipping")
			continue
		}

		exp, err := raw.toExperience(id)
		if err != nil {
			log.Warn().Err(err).Str("experience_id", id).Msg("invalid experience config, skipping")
			continue
		}
		out[id] = exp
	}
	return out, nil
}

// decodeExperienceConfig tries each supported descriptor filename in turn,
// returning the first one found. It returns (nil, nil) when a directory has
// none of them, distinct from a parse failure.
func decodeExperienceConfig(dir string) (*rawExperience, error) {
	for _, name := range configFilenames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		var raw rawExperience
		switch filepath.Ext(name) {
		case ".toml":
			if _, err := toml.DecodeFile(path, &raw); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case ".yaml", ".yml":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case ".json":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
		return &raw, nil
	}
	return nil, nil
}

// LoadCollections, LoadTags and LoadFolders parse the shared grouping files.
// Each is a TOML table keyed by id, mirroring the original's
// data/groupings.py id-keyed dict shape.
func LoadCollections(path string) (map[string]types.Collection, error) {
	var doc struct {
		Collections map[string]types.Collection `toml:"collections"`
	}
	if err := decodeOptional(path, &doc); err != nil {
		return nil, err
	}
	if doc.Collections == nil {
		doc.Collections = map[string]types.Collection{}
	}
	for id, c := range doc.Collections {
		c.ID = id
		doc.Collections[id] = c
	}
	return doc.Collections, nil
}

func LoadTags(path string) (map[string]types.Tag, error) {
	var doc struct {
		Tags map[string]types.Tag `toml:"tags"`
	}
	if err := decodeOptional(path, &doc); err != nil {
		return nil, err
	}
	if doc.Tags == nil {
		doc.Tags = map[string]types.Tag{}
	}
	for id, t := range doc.Tags {
		t.ID = id
		doc.Tags[id] = t
	}
	return doc.Tags, nil
}

func LoadFolders(path string) (map[string]types.Folder, error) {
	var doc struct {
		Folders map[string]types.Folder `toml:"folders"`
	}
	if err := decodeOptional(path, &doc); err != nil {
		return nil, err
	}
	if doc.Folders == nil {
		doc.Folders = map[string]types.Folder{}
	}
	for id, f := range doc.Folders {
		f.ID = id
		doc.Folders[id] = f
	}
	return doc.Folders, nil
}

// decodeOptional decodes a grouping file if present; a missing file is not
// an error, since collections/tags/folders are all optional groupings.
func decodeOptional(path string, v interface{}) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	_, err := toml.DecodeFile(path, v)
	return err
}

// PopulateGroupings fills each Experience's Folders field from the loaded
// folders file: an experience belongs to every folder whose items list its
// id. Collection and Tags are not touched; they keep the values read from
// each experience's own config, and collections.toml/tags.toml do not
// affect them.
func PopulateGroupings(experiences map[string]types.Experience, folders map[string]types.Folder) {
	folderMembers := map[string][]string{}
	for folderID, folder := range folders {
		for _, item := range folder.Items {
			folderMembers[item] = append(folderMembers[item], folderID)
		}
	}

	for id, exp := range experiences {
		exp.Folders = folderMembers[id]
		experiences[id] = exp
	}
}
