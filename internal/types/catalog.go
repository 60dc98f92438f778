package types

// Collection, Tag and Folder are grouping metadata loaded from separate TOML
// files (spec §3, §6). Only Folder carries member items, which the
// Controller uses to populate Experience.Folders at load time;
// Experience.Collection and Experience.Tags come from each experience's own
// config.
type Collection struct {
	ID    string `toml:"id" json:"id"`
	Title string `toml:"title" json:"title"`
}

type Tag struct {
	ID    string `toml:"id" json:"id"`
	Title string `toml:"title" json:"title"`
}

type Folder struct {
	ID      string   `toml:"id" json:"id"`
	Title   string   `toml:"title" json:"title"`
	Visible bool     `toml:"visible" json:"visible"`
	Items   []string `toml:"items" json:"items,omitempty"`
}
